// File: core/protocol/tag_codec.go
// Package protocol implements the lossless correlation tag codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind     = errors.New("unknown operation kind")
	ErrIndexRange      = errors.New("buffer index out of range")
	ErrDescriptorRange = errors.New("descriptor out of range")
)

// Tag is the decoded form of a submission's user data.
type Tag struct {
	Kind  Kind
	Index uint16 // buffer index; zero when the operation uses none
	FD    int32  // connection descriptor the completion is routed to
}

// NewTag validates int-typed fields and builds a Tag.
func NewTag(kind Kind, index, fd int) (Tag, error) {
	if !kind.Valid() {
		return Tag{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint16(kind))
	}
	if index < 0 || index > MaxIndex {
		return Tag{}, fmt.Errorf("%w: %d", ErrIndexRange, index)
	}
	if fd < 0 || fd > MaxFD {
		return Tag{}, fmt.Errorf("%w: %d", ErrDescriptorRange, fd)
	}
	return Tag{Kind: kind, Index: uint16(index), FD: int32(fd)}, nil
}

// Encode packs t into the 64-bit user data slot.
func Encode(t Tag) uint64 {
	return uint64(t.Kind) | uint64(t.Index)<<16 | uint64(uint32(t.FD))<<32
}

// Decode unpacks user data produced by Encode. Values whose kind field is
// not a defined Kind are rejected.
func Decode(v uint64) (Tag, error) {
	t := Tag{
		Kind:  Kind(v & 0xFFFF),
		Index: uint16(v >> 16),
		FD:    int32(uint32(v >> 32)),
	}
	if !t.Kind.Valid() {
		return Tag{}, fmt.Errorf("%w: %d (user data %#x)", ErrUnknownKind, uint16(t.Kind), v)
	}
	return t, nil
}

// Encode is a method form of the package-level Encode.
func (t Tag) Encode() uint64 { return Encode(t) }

func (t Tag) String() string {
	return fmt.Sprintf("%s[bid=%d fd=%d]", t.Kind, t.Index, t.FD)
}
