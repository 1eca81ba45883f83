package pool_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/pool"
	"github.com/stretchr/testify/require"
)

type provideCall struct {
	group, start uint16
	count, size  int
	mem          []byte
	userData     uint64
}

type recordingProvider struct {
	calls []provideCall
	fail  error
}

func (r *recordingProvider) PrepareProvideBuffers(group, start uint16, count, size int, mem []byte, userData uint64) error {
	if r.fail != nil {
		return r.fail
	}
	r.calls = append(r.calls, provideCall{group, start, count, size, mem, userData})
	return nil
}

func newRegistered(t *testing.T, count, size int) (*pool.Pool, *recordingProvider) {
	t.Helper()
	p, err := pool.New(pool.Config{Count: count, Size: size, Group: 1337})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	pr := &recordingProvider{}
	require.NoError(t, p.Register(pr, 7))
	require.NoError(t, p.MarkAllProvided())
	return p, pr
}

func TestIndexRoundTrip(t *testing.T) {
	p, _ := newRegistered(t, 64, 128)
	for i := 0; i < p.Count(); i++ {
		b, err := p.Buffer(i)
		require.NoError(t, err)
		got, err := p.IndexOf(b)
		require.NoError(t, err)
		require.Equal(t, i, got)
		require.Equal(t, 128, len(b.Bytes()))
		require.Equal(t, 128, cap(b.Bytes()))
	}
	_, err := p.Buffer(64)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestBuffersDoNotOverlap(t *testing.T) {
	p, _ := newRegistered(t, 4, 16)
	for i := 0; i < 4; i++ {
		b, _ := p.Buffer(i)
		for j := range b.Bytes() {
			b.Bytes()[j] = byte(i + 1)
		}
	}
	for i := 0; i < 4; i++ {
		b, _ := p.Buffer(i)
		for _, v := range b.Bytes() {
			require.Equal(t, byte(i+1), v)
		}
	}
}

func TestIndexOfForeignBuffer(t *testing.T) {
	p1, _ := newRegistered(t, 2, 8)
	p2, _ := newRegistered(t, 2, 8)
	b, _ := p2.Buffer(1)
	_, err := p1.IndexOf(b)
	require.ErrorIs(t, err, api.ErrForeignBuffer)
	_, err = p1.IndexOf(pool.Buffer{})
	require.ErrorIs(t, err, api.ErrForeignBuffer)
}

func TestRegisterBulkProvide(t *testing.T) {
	p, err := pool.New(pool.Config{Count: 8, Size: 32, Group: 42})
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, 8, p.Stats().Idle)

	pr := &recordingProvider{}
	require.NoError(t, p.Register(pr, 99))
	require.Len(t, pr.calls, 1)
	c := pr.calls[0]
	require.Equal(t, uint16(42), c.group)
	require.Equal(t, uint16(0), c.start)
	require.Equal(t, 8, c.count)
	require.Equal(t, 32, c.size)
	require.Len(t, c.mem, 8*32)
	require.Equal(t, uint64(99), c.userData)
	require.Equal(t, 8, p.Stats().Providing)

	require.ErrorIs(t, p.Register(pr, 99), api.ErrBufferState)
	require.NoError(t, p.MarkAllProvided())
	require.Equal(t, 8, p.Stats().Provided)
}

func TestCheckoutReprovideExactlyOnce(t *testing.T) {
	p, pr := newRegistered(t, 4, 64)

	b, err := p.Checkout(2)
	require.NoError(t, err)
	require.Equal(t, pool.StateCheckedOut, p.State(2))

	// selected again before re-provision
	_, err = p.Checkout(2)
	require.ErrorIs(t, err, api.ErrBufferState)

	require.NoError(t, p.Reprovide(pr, b, 5))
	require.Equal(t, pool.StateProviding, p.State(2))
	last := pr.calls[len(pr.calls)-1]
	require.Equal(t, uint16(2), last.start)
	require.Equal(t, 1, last.count)
	require.Len(t, last.mem, 64)

	// second re-provide of the same checkout
	require.ErrorIs(t, p.Reprovide(pr, b, 5), api.ErrBufferState)

	// still not selectable until its provide completion is seen
	_, err = p.Checkout(2)
	require.ErrorIs(t, err, api.ErrBufferState)

	require.NoError(t, p.MarkProvided(2))
	require.ErrorIs(t, p.MarkProvided(2), api.ErrBufferState)
	_, err = p.Checkout(2)
	require.NoError(t, err)

	st := p.Stats()
	require.Equal(t, uint64(2), st.Checkouts)
	require.Equal(t, uint64(1), st.Reprovides)
	require.Equal(t, 1, st.CheckedOut)
	require.Equal(t, 3, st.Provided)
}

func TestReprovideFailureKeepsCheckout(t *testing.T) {
	p, _ := newRegistered(t, 2, 8)
	b, err := p.Checkout(0)
	require.NoError(t, err)

	boom := errors.New("queue full")
	require.ErrorIs(t, p.Reprovide(&recordingProvider{fail: boom}, b, 1), boom)
	require.Equal(t, pool.StateCheckedOut, p.State(0))
}

func TestBufferStateErrorContext(t *testing.T) {
	p, _ := newRegistered(t, 2, 8)
	err := p.MarkProvided(1)
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 1, apiErr.Context["index"])
	require.Equal(t, "provided", apiErr.Context["state"])
	require.Equal(t, api.ErrCodeInternal, apiErr.Code)

	// a completion naming a buffer outside the group
	err = p.MarkProvided(9)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, api.ErrCodeInvalidArgument, apiErr.Code)
	require.Equal(t, 9, apiErr.Context["index"])
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := pool.New(pool.Config{Count: 0, Size: 16})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = pool.New(pool.Config{Count: pool.MaxBuffers + 1, Size: 16})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = pool.New(pool.Config{Count: 4, Size: 0})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestZeroBuffer(t *testing.T) {
	var b pool.Buffer
	require.False(t, b.Valid())
	require.Nil(t, b.Bytes())
	require.Zero(t, b.Cap())
}
