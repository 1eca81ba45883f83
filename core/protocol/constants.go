// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Operation kinds carried in the correlation tag.

package protocol

import "fmt"

// Kind identifies the operation a submission belongs to.
type Kind uint16

const (
	KindAccept Kind = iota
	KindRead
	KindWrite
	KindOpen
	KindProvideBuffer

	kindCount
)

// Field limits of the tag layout.
const (
	MaxIndex = 1<<16 - 1
	MaxFD    = 1<<31 - 1
)

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { return k < kindCount }

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "accept"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindOpen:
		return "open"
	case KindProvideBuffer:
		return "provide_buffer"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}
