// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-size buffer group shared with the kernel.
//
// Every buffer cycles Provided -> CheckedOut -> Providing -> Provided for the
// lifetime of the pool. Provided means the kernel may select it for a read,
// CheckedOut means exactly one task owns it, Providing means a re-provide
// submission is in flight. Transitions are driven from the event loop only,
// so no locking is done here.

package pool

import (
	"fmt"

	"github.com/momentics/hioload-uring/api"
)

// MaxBuffers is the largest group the 16-bit kernel buffer id can address.
const MaxBuffers = 1 << 16

// State of a single buffer.
type State uint8

const (
	StateIdle State = iota // allocated, never handed to the kernel
	StateProvided
	StateCheckedOut
	StateProviding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvided:
		return "provided"
	case StateCheckedOut:
		return "checked_out"
	case StateProviding:
		return "providing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Config sizes a buffer group.
type Config struct {
	Count int    // number of buffers
	Size  int    // capacity of each buffer in bytes
	Group uint16 // kernel buffer group id
}

// Stats is a point-in-time accounting of the group.
type Stats struct {
	Idle       int
	Provided   int
	CheckedOut int
	Providing  int
	Checkouts  uint64 // total successful checkouts
	Reprovides uint64 // total re-provide submissions
}

// Pool owns the arena and per-buffer state.
type Pool struct {
	cfg     Config
	arena   []byte
	free    func() error
	state   []State
	counts  [4]int
	checked uint64
	reprov  uint64
}

// Buffer is a handle to one pooled buffer. The zero value is invalid.
type Buffer struct {
	pool  *Pool
	index uint16
}

// New allocates the arena for cfg. Buffers start Idle until Register.
func New(cfg Config) (*Pool, error) {
	if cfg.Count <= 0 || cfg.Count > MaxBuffers {
		return nil, fmt.Errorf("pool: buffer count %d: %w", cfg.Count, api.ErrInvalidArgument)
	}
	if cfg.Size <= 0 || cfg.Size > int(^uint32(0)>>1)/cfg.Count {
		return nil, fmt.Errorf("pool: buffer size %d: %w", cfg.Size, api.ErrInvalidArgument)
	}
	arena, free, err := allocArena(cfg.Count * cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("pool: allocate arena: %w", err)
	}
	p := &Pool{
		cfg:   cfg,
		arena: arena,
		free:  free,
		state: make([]State, cfg.Count),
	}
	p.counts[StateIdle] = cfg.Count
	return p, nil
}

// Config returns the configuration the pool was built with.
func (p *Pool) Config() Config { return p.cfg }

// Group returns the kernel buffer group id.
func (p *Pool) Group() uint16 { return p.cfg.Group }

// BufferSize returns the capacity of every buffer.
func (p *Pool) BufferSize() int { return p.cfg.Size }

// Count returns the number of buffers.
func (p *Pool) Count() int { return p.cfg.Count }

// Buffer returns the handle for index.
func (p *Pool) Buffer(index int) (Buffer, error) {
	if index < 0 || index >= p.cfg.Count {
		return Buffer{}, fmt.Errorf("pool: index %d: %w", index, api.ErrInvalidArgument)
	}
	return Buffer{pool: p, index: uint16(index)}, nil
}

// IndexOf is the inverse of Buffer.
func (p *Pool) IndexOf(b Buffer) (int, error) {
	if b.pool != p {
		return 0, fmt.Errorf("pool: buffer from another pool: %w", api.ErrForeignBuffer)
	}
	return int(b.index), nil
}

// State returns the state of index. Out-of-range indexes report Idle.
func (p *Pool) State(index int) State {
	if index < 0 || index >= p.cfg.Count {
		return StateIdle
	}
	return p.state[index]
}

// Register stages one bulk provide for the whole group. Every buffer must be
// Idle; all of them become Providing until MarkAllProvided.
func (p *Pool) Register(pr api.Provider, userData uint64) error {
	if p.counts[StateIdle] != p.cfg.Count {
		return fmt.Errorf("pool: register with %d buffers in use: %w", p.cfg.Count-p.counts[StateIdle], api.ErrBufferState)
	}
	if err := pr.PrepareProvideBuffers(p.cfg.Group, 0, p.cfg.Count, p.cfg.Size, p.arena, userData); err != nil {
		return fmt.Errorf("pool: provide group %d: %w", p.cfg.Group, err)
	}
	for i := range p.state {
		p.set(i, StateProviding)
	}
	return nil
}

// MarkAllProvided records the completion of the bulk provide.
func (p *Pool) MarkAllProvided() error {
	if p.counts[StateProviding] != p.cfg.Count {
		return fmt.Errorf("pool: bulk provide completed with %d buffers providing: %w", p.counts[StateProviding], api.ErrBufferState)
	}
	for i := range p.state {
		p.set(i, StateProvided)
	}
	return nil
}

// MarkProvided records the completion of a single re-provide.
func (p *Pool) MarkProvided(index int) error {
	if err := p.expect(index, StateProviding); err != nil {
		return err
	}
	p.set(index, StateProvided)
	return nil
}

// Checkout records that the kernel selected index for a read.
func (p *Pool) Checkout(index int) (Buffer, error) {
	if err := p.expect(index, StateProvided); err != nil {
		return Buffer{}, err
	}
	p.set(index, StateCheckedOut)
	p.checked++
	return Buffer{pool: p, index: uint16(index)}, nil
}

// Reprovide stages the re-registration of exactly one checked-out buffer.
// On error the buffer stays checked out.
func (p *Pool) Reprovide(pr api.Provider, b Buffer, userData uint64) error {
	idx, err := p.IndexOf(b)
	if err != nil {
		return err
	}
	if err := p.expect(idx, StateCheckedOut); err != nil {
		return err
	}
	if err := pr.PrepareProvideBuffers(p.cfg.Group, b.index, 1, p.cfg.Size, p.region(idx), userData); err != nil {
		return fmt.Errorf("pool: re-provide buffer %d: %w", idx, err)
	}
	p.set(idx, StateProviding)
	p.reprov++
	return nil
}

// Stats reports the current accounting.
func (p *Pool) Stats() Stats {
	return Stats{
		Idle:       p.counts[StateIdle],
		Provided:   p.counts[StateProvided],
		CheckedOut: p.counts[StateCheckedOut],
		Providing:  p.counts[StateProviding],
		Checkouts:  p.checked,
		Reprovides: p.reprov,
	}
}

// Close releases the arena. The kernel must no longer reference it.
func (p *Pool) Close() error {
	if p.free == nil {
		return nil
	}
	err := p.free()
	p.free = nil
	p.arena = nil
	return err
}

func (p *Pool) region(index int) []byte {
	off := index * p.cfg.Size
	return p.arena[off : off+p.cfg.Size : off+p.cfg.Size]
}

func (p *Pool) expect(index int, want State) error {
	if index < 0 || index >= p.cfg.Count {
		return api.NewError(api.ErrCodeInvalidArgument, "pool: buffer index out of range").
			WithContext("index", index).
			WithContext("count", p.cfg.Count).
			WithCause(api.ErrInvalidArgument)
	}
	if got := p.state[index]; got != want {
		return api.NewError(api.ErrCodeInternal, "pool: buffer state mismatch").
			WithContext("index", index).
			WithContext("state", got.String()).
			WithContext("want", want.String()).
			WithCause(api.ErrBufferState)
	}
	return nil
}

func (p *Pool) set(index int, s State) {
	p.counts[p.state[index]]--
	p.state[index] = s
	p.counts[s]++
}

// Valid reports whether b refers to a pool.
func (b Buffer) Valid() bool { return b.pool != nil }

// Index returns the buffer id shared with the kernel.
func (b Buffer) Index() int { return int(b.index) }

// Bytes returns the full-capacity view of the buffer.
func (b Buffer) Bytes() []byte {
	if b.pool == nil {
		return nil
	}
	return b.pool.region(int(b.index))
}

// Cap returns the buffer capacity.
func (b Buffer) Cap() int {
	if b.pool == nil {
		return 0
	}
	return b.pool.cfg.Size
}
