// Package session
// Author: momentics <momentics@gmail.com>
//
// Connection registry: maps a connection descriptor to the one live value
// (a task) that owns it. A descriptor is present exactly while its owner is
// alive. The registry belongs to a single event loop and is not locked.

package session
