// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime counters for the completion loop.
//
// Counters are written by the loop's single logical thread and may be read
// from any goroutine through Snapshot.
package control
