// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_other.go) guarded by build tags.

package affinity

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpuID. The event loop calls it once from the goroutine that runs it. Other
// goroutines, including the ones running task bodies, are unaffected.
func Pin(cpuID int) error {
	return pinPlatform(cpuID)
}

// Unpin restores the affinity saved by the last Pin and unlocks the thread.
func Unpin() error {
	return unpinPlatform()
}
