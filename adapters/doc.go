// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Connection handlers for the event loop: a one-shot HTTP responder that
// answers from the request buffer itself, and an echo handler.

package adapters
