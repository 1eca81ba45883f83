//go:build linux
// +build linux

package server

import (
	"errors"
	"io"
	"net/netip"
	"testing"

	"github.com/momentics/hioload-uring/fake"
	"github.com/momentics/hioload-uring/reactor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenLoopback(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	fd, err := Listen("127.0.0.1:0", 16, 1, log)
	require.NoError(t, err)
	defer unix.Close(fd)

	addr, err := BoundAddr(fd)
	require.NoError(t, err)
	require.True(t, addr.Addr().IsLoopback())
	require.NotZero(t, addr.Port())

	// a listening socket keeps the port even with SO_REUSEADDR
	_, err = Listen(addr.String(), 16, 2, log)
	require.ErrorIs(t, err, unix.EADDRINUSE)
}

func TestResolveUnspecified(t *testing.T) {
	ap, err := resolve(":8080")
	require.NoError(t, err)
	require.True(t, ap.Addr().Is4())
	require.True(t, ap.Addr().IsUnspecified())
	require.Equal(t, uint16(8080), ap.Port())

	_, err = resolve("not an address")
	require.Error(t, err)
}

func TestServePinsLoopThread(t *testing.T) {
	var before unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &before))
	cpu := -1
	for i := 0; i < len(before)*64; i++ {
		if before.IsSet(i) {
			cpu = i
			break
		}
	}
	require.GreaterOrEqual(t, cpu, 0)

	log := logrus.New()
	log.SetOutput(io.Discard)
	r := fake.NewRing()
	lfd := r.Listen()
	cfg := DefaultConfig()
	cfg.CPU = cpu
	cfg.Reactor.BufferCount = 2
	cfg.Reactor.MessageSize = 16

	// the handler factory runs on the loop goroutine
	var loopCPUs int
	h := func(fd int) *reactor.Task {
		var set unix.CPUSet
		if unix.SchedGetaffinity(0, &set) == nil {
			loopCPUs = set.Count()
		}
		return reactor.NewTask(func(c *reactor.Conn) error { return nil })
	}
	s, err := NewServer(cfg, h, WithQueue(r), WithListenFD(lfd), WithLogger(log))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	r.Connect(lfd, netip.MustParseAddrPort("192.0.2.1:1"))
	require.True(t, errors.Is(s.Serve(), fake.ErrIdle))
	require.Equal(t, 1, loopCPUs)
}
