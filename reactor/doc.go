// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor is the single-threaded completion event loop.
//
// A Loop owns a completion queue, the kernel buffer group and the registry of
// live connections. Every accepted connection is driven by a Task: a body
// func(*Conn) error that suspends at Conn awaitables (ReadSocket,
// WriteSocket, ReadFile, WriteFile, OpenFile) and resumes when the loop sees
// the completion whose tag names its descriptor. Exactly one logical thread
// runs at a time: either the loop or the one task it resumed.
package reactor
