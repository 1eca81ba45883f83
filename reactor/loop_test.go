package reactor_test

import (
	"errors"
	"io"
	"net/netip"
	"syscall"
	"testing"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/core/protocol"
	"github.com/momentics/hioload-uring/fake"
	"github.com/momentics/hioload-uring/pool"
	"github.com/momentics/hioload-uring/reactor"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const group = 1337

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newLoop(t *testing.T, h reactor.HandlerFunc, opts ...reactor.Option) (*reactor.Loop, *fake.Ring, int) {
	t.Helper()
	r := fake.NewRing()
	lfd := r.Listen()
	base := []reactor.Option{
		reactor.WithBufferCount(8),
		reactor.WithMessageSize(64),
		reactor.WithBufferGroup(group),
		reactor.WithBatchSize(16),
		reactor.WithLogger(quietLogger()),
	}
	l, err := reactor.New(r, lfd, h, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l, r, lfd
}

// drive steps the loop until nothing can complete without client input.
func drive(t *testing.T, l *reactor.Loop) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		err := l.Step()
		if errors.Is(err, fake.ErrIdle) {
			return
		}
		require.NoError(t, err)
	}
	t.Fatal("loop never went idle")
}

func peer(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

// echoOnce echoes one message and returns, leaving the close to the loop.
func echoOnce(fd int) *reactor.Task {
	return reactor.NewTask(func(c *reactor.Conn) error {
		buf, n, err := c.ReadSocket()
		if err != nil {
			return err
		}
		_, err = c.WriteSocket(buf, n)
		return err
	})
}

// echoLoop echoes until the peer closes.
func echoLoop(fd int) *reactor.Task {
	return reactor.NewTask(func(c *reactor.Conn) error {
		for {
			buf, n, err := c.ReadSocket()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := c.WriteSocket(buf, n); err != nil {
				return err
			}
		}
	})
}

func TestNewProvidesGroupAndArmsAccept(t *testing.T) {
	l, r, _ := newLoop(t, echoOnce)
	require.Equal(t, 8, r.Available(group))
	require.Equal(t, 8, l.Stats().Pool.Provided)
	for bid := uint16(0); bid < 8; bid++ {
		require.Equal(t, 1, r.ProvideCount(group, bid))
	}
	drive(t, l)
	require.Equal(t, 1, r.Parked()) // the accept
}

func TestNewRejectsBadInput(t *testing.T) {
	r := fake.NewRing()
	_, err := reactor.New(r, r.Listen(), echoOnce, reactor.WithBufferCount(0), reactor.WithLogger(quietLogger()))
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = reactor.New(r, r.Listen(), nil)
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	r = fake.NewRing()
	r.FailProvides(syscall.EINVAL)
	_, err = reactor.New(r, r.Listen(), echoOnce, reactor.WithLogger(quietLogger()))
	require.ErrorIs(t, err, syscall.EINVAL)
}

func TestSingleClientEcho(t *testing.T) {
	l, r, lfd := newLoop(t, echoOnce)
	c := r.Connect(lfd, peer("192.0.2.1:5000"))
	c.Send([]byte("GET / HTTP/1.1\r\n\r\n"))
	drive(t, l)

	require.Equal(t, "GET / HTTP/1.1\r\n\r\n", string(c.Output()))
	require.True(t, c.Closed())
	require.Empty(t, l.Connections())
	require.Equal(t, []int{c.FD()}, r.Shutdowns())

	// the one buffer used went back exactly once
	require.Equal(t, 2, r.ProvideCount(group, 0))
	for bid := uint16(1); bid < 8; bid++ {
		require.Equal(t, 1, r.ProvideCount(group, bid))
	}
	st := l.Stats().Pool
	require.Equal(t, 8, st.Provided)
	require.Zero(t, st.CheckedOut)
	require.Empty(t, r.Violations())

	snap := l.Counters().Snapshot()
	require.Equal(t, uint64(1), snap["accepted"])
	require.Equal(t, int64(0), snap["active"])
}

func TestTwoClientsIsolated(t *testing.T) {
	seen := make(map[int]string)
	h := func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			buf, n, err := c.ReadSocket()
			if err != nil {
				return err
			}
			seen[c.FD()] = string(buf.Bytes()[:n])
			_, err = c.WriteSocket(buf, n)
			return err
		})
	}
	l, r, lfd := newLoop(t, h)
	a := r.Connect(lfd, peer("192.0.2.1:1"))
	b := r.Connect(lfd, peer("192.0.2.2:2"))
	drive(t, l)
	require.ElementsMatch(t, []int{a.FD(), b.FD()}, l.Connections())

	a.Send([]byte("from a"))
	drive(t, l)
	require.Equal(t, []int{b.FD()}, l.Connections())
	require.Equal(t, "from a", string(a.Output()))
	require.Empty(t, b.Output())
	require.NotContains(t, seen, b.FD())

	b.Send([]byte("from b"))
	drive(t, l)
	require.Empty(t, l.Connections())
	require.Equal(t, "from b", string(b.Output()))
	require.Equal(t, map[int]string{a.FD(): "from a", b.FD(): "from b"}, seen)
	require.Empty(t, r.Violations())
}

func TestExhaustionDefersRead(t *testing.T) {
	l, r, lfd := newLoop(t, echoLoop, reactor.WithBufferCount(2))
	var clients []*fake.Conn
	for i, msg := range []string{"one", "two", "three"} {
		c := r.Connect(lfd, netip.AddrPortFrom(netip.AddrFrom4([4]byte{192, 0, 2, byte(i + 1)}), 80))
		c.Send([]byte(msg))
		clients = append(clients, c)
	}
	drive(t, l)

	snap := l.Counters().Snapshot()
	require.NotZero(t, snap["nobufs"])
	require.NotZero(t, snap["deferred"])
	require.Len(t, l.Connections(), 3)
	for i, msg := range []string{"one", "two", "three"} {
		require.Equal(t, msg, string(clients[i].Output()))
	}

	for _, c := range clients {
		c.CloseWrite()
	}
	drive(t, l)
	require.Empty(t, l.Connections())
	require.Zero(t, l.Stats().Parked)
	require.Equal(t, 2, l.Stats().Pool.Provided)
	require.Empty(t, r.Violations())
}

func TestExhaustionFailKeepsOthersAlive(t *testing.T) {
	failed := make(map[int]error)
	l, r, lfd := newLoop(t, echoLoop,
		reactor.WithBufferCount(2),
		reactor.WithExhaustionPolicy(reactor.ExhaustionFail, 0),
		reactor.WithTaskErrorHandler(func(fd int, err error) { failed[fd] = err }),
	)
	a := r.Connect(lfd, peer("192.0.2.1:1"))
	b := r.Connect(lfd, peer("192.0.2.2:2"))
	c := r.Connect(lfd, peer("192.0.2.3:3"))
	for _, cl := range []*fake.Conn{a, b, c} {
		cl.Send([]byte("hi"))
	}
	drive(t, l)

	require.Len(t, failed, 1)
	require.ErrorIs(t, failed[c.FD()], api.ErrNoBuffers)
	require.True(t, c.Closed())
	require.ElementsMatch(t, []int{a.FD(), b.FD()}, l.Connections())
	require.Equal(t, "hi", string(a.Output()))
	require.Equal(t, "hi", string(b.Output()))

	a.Send([]byte("again"))
	drive(t, l)
	require.Equal(t, "hiagain", string(a.Output()))
	require.Empty(t, r.Violations())
}

func TestExhaustionDeferLimitFailsOverflow(t *testing.T) {
	failed := make(map[int]error)
	l, r, lfd := newLoop(t, echoLoop,
		reactor.WithBufferCount(1),
		reactor.WithExhaustionPolicy(reactor.ExhaustionDefer, 1),
		reactor.WithTaskErrorHandler(func(fd int, err error) { failed[fd] = err }),
	)
	a := r.Connect(lfd, peer("192.0.2.1:1"))
	b := r.Connect(lfd, peer("192.0.2.2:2"))
	c := r.Connect(lfd, peer("192.0.2.3:3"))
	for _, cl := range []*fake.Conn{a, b, c} {
		cl.Send([]byte("hi"))
	}
	drive(t, l)

	// b parks behind a, c finds the parked queue full
	require.Equal(t, uint64(1), l.Counters().Deferred.Load())
	require.Equal(t, uint64(2), l.Counters().NoBuffers.Load())
	require.Len(t, failed, 1)
	require.ErrorIs(t, failed[c.FD()], api.ErrNoBuffers)
	var opErr *api.OpError
	require.ErrorAs(t, failed[c.FD()], &opErr)
	require.Equal(t, c.FD(), opErr.FD)
	require.True(t, c.Closed())

	require.ElementsMatch(t, []int{a.FD(), b.FD()}, l.Connections())
	require.Equal(t, "hi", string(a.Output()))
	require.Equal(t, "hi", string(b.Output()))
	require.Zero(t, l.Stats().Parked)

	a.CloseWrite()
	b.CloseWrite()
	drive(t, l)
	require.Empty(t, l.Connections())
	require.Equal(t, 1, l.Stats().Pool.Provided)
	require.Empty(t, r.Violations())
}

func TestTaskErrorAndPanicSurfaced(t *testing.T) {
	boom := errors.New("boom")
	failed := make(map[int]error)
	count := 0
	h := func(fd int) *reactor.Task {
		count++
		n := count
		return reactor.NewTask(func(c *reactor.Conn) error {
			if _, _, err := c.ReadSocket(); err != nil {
				return err
			}
			if n == 1 {
				return boom
			}
			panic("bad request")
		})
	}
	l, r, lfd := newLoop(t, h, reactor.WithTaskErrorHandler(func(fd int, err error) { failed[fd] = err }))
	a := r.Connect(lfd, peer("192.0.2.1:1"))
	b := r.Connect(lfd, peer("192.0.2.2:2"))
	a.Send([]byte("x"))
	b.Send([]byte("y"))
	drive(t, l)

	require.ErrorIs(t, failed[a.FD()], boom)
	var pe *reactor.PanicError
	require.ErrorAs(t, failed[b.FD()], &pe)
	require.Equal(t, "bad request", pe.Value)
	require.NotEmpty(t, pe.Stack)

	// held buffers were given back by the retire
	require.Empty(t, l.Connections())
	require.Zero(t, l.Stats().Pool.CheckedOut)
	require.Equal(t, 8, l.Stats().Pool.Provided)
	require.Equal(t, uint64(2), l.Counters().TaskErrors.Load())
}

func TestPeerAddrAndEOF(t *testing.T) {
	var got netip.AddrPort
	var readErr error
	h := func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			got = c.PeerAddr()
			_, _, readErr = c.ReadSocket()
			return nil
		})
	}
	l, r, lfd := newLoop(t, h)
	c := r.Connect(lfd, peer("[2001:db8::7]:8443"))
	c.CloseWrite()
	drive(t, l)
	require.Equal(t, peer("[2001:db8::7]:8443"), got)
	require.ErrorIs(t, readErr, io.EOF)
	// the zero-byte read still selected a buffer; it went straight back
	require.Equal(t, 8, l.Stats().Pool.Provided)
	require.Empty(t, r.Violations())
}

func TestWriteProvenanceAndClose(t *testing.T) {
	var foreign, afterClose, readAfterClose, secondClose error
	var heldBefore, heldAfter int
	h := func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			buf, n, err := c.ReadSocket()
			if err != nil {
				return err
			}
			_, foreign = c.WriteSocket(pool.Buffer{}, n)
			heldBefore = c.Held()
			if err := c.Close(); err != nil {
				return err
			}
			heldAfter = c.Held()
			_, afterClose = c.WriteSocket(buf, n)
			_, _, readAfterClose = c.ReadSocket()
			secondClose = c.Close()
			return nil
		})
	}
	l, r, lfd := newLoop(t, h)
	c := r.Connect(lfd, peer("192.0.2.1:1"))
	c.Send([]byte("data"))
	drive(t, l)

	require.ErrorIs(t, foreign, api.ErrForeignBuffer)
	require.ErrorIs(t, afterClose, api.ErrConnClosed)
	require.ErrorIs(t, readAfterClose, api.ErrConnClosed)
	require.NoError(t, secondClose)
	require.Equal(t, 1, heldBefore)
	require.Zero(t, heldAfter)
	require.Equal(t, []int{c.FD()}, r.Shutdowns())
	require.Empty(t, c.Output())
	require.Equal(t, 8, l.Stats().Pool.Provided)
}

func TestWriteFailureStillReprovides(t *testing.T) {
	var writeErr error
	h := func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			buf, n, err := c.ReadSocket()
			if err != nil {
				return err
			}
			_, writeErr = c.WriteSocket(buf, n)
			return nil
		})
	}
	l, r, lfd := newLoop(t, h)
	c := r.Connect(lfd, peer("192.0.2.1:1"))
	c.FailWrites(syscall.ECONNRESET)
	c.Send([]byte("data"))
	drive(t, l)

	require.ErrorIs(t, writeErr, syscall.ECONNRESET)
	var opErr *api.OpError
	require.ErrorAs(t, writeErr, &opErr)
	require.Equal(t, "send", opErr.Op)
	require.Equal(t, c.FD(), opErr.FD)
	require.Equal(t, 2, r.ProvideCount(group, 0))
	require.Equal(t, 8, l.Stats().Pool.Provided)
}

func TestFileAwaitables(t *testing.T) {
	var openErr error
	h := func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			_, openErr = c.OpenFile("/missing", syscall.O_RDONLY, 0)

			in, err := c.OpenFile("/index.html", syscall.O_RDONLY, 0)
			if err != nil {
				return err
			}
			defer c.CloseFile(in)
			buf, n, err := c.ReadFile(in)
			if err != nil {
				return err
			}
			if _, err := c.WriteSocket(buf, n); err != nil {
				return err
			}
			if _, _, err := c.ReadFile(in); !errors.Is(err, io.EOF) {
				return err
			}

			out, err := c.OpenFile("/upload.bin", syscall.O_WRONLY|syscall.O_CREAT, 0o644)
			if err != nil {
				return err
			}
			defer c.CloseFile(out)
			buf, n, err = c.ReadSocket()
			if err != nil {
				return err
			}
			_, err = c.WriteFile(out, buf, n)
			return err
		})
	}
	failed := make(map[int]error)
	l, r, lfd := newLoop(t, h, reactor.WithTaskErrorHandler(func(fd int, err error) { failed[fd] = err }))
	r.AddFile("/index.html", []byte("<html>hi</html>"))
	c := r.Connect(lfd, peer("192.0.2.1:1"))
	c.Send([]byte("upload body"))
	drive(t, l)

	require.Empty(t, failed)
	require.ErrorIs(t, openErr, syscall.ENOENT)
	require.Equal(t, "<html>hi</html>", string(c.Output()))
	require.Equal(t, "upload body", string(r.FileData("/upload.bin")))
	require.True(t, c.Closed())
	require.Equal(t, uint64(3), l.Counters().Opens.Load())
	require.Equal(t, 8, l.Stats().Pool.Provided)
	require.Len(t, r.Shutdowns(), 3)
	require.Empty(t, r.Violations())
}

func TestHandlerWithoutTask(t *testing.T) {
	l, r, lfd := newLoop(t, func(fd int) *reactor.Task { return nil })
	c := r.Connect(lfd, peer("192.0.2.1:1"))
	drive(t, l)
	require.Equal(t, []int{c.FD()}, r.Shutdowns())
	require.Empty(t, l.Connections())
}

func TestUnknownDescriptorGivesBufferBack(t *testing.T) {
	l, r, _ := newLoop(t, echoOnce)
	drive(t, l)
	tag := protocol.Tag{Kind: protocol.KindRead, FD: 999}
	r.Inject(api.Completion{UserData: tag.Encode(), Res: 10, Flags: api.CQEFBuffer | 3<<api.CQEBufferShift})
	drive(t, l)

	require.Equal(t, uint64(1), l.Counters().Orphans.Load())
	require.Equal(t, pool.StateProvided, l.Pool().State(3))
	// the injected completion never took buffer 3 out of the fake group
	require.Equal(t, 2, r.ProvideCount(group, 3))
}

func TestUnknownKindStopsStep(t *testing.T) {
	l, r, _ := newLoop(t, echoOnce)
	drive(t, l)
	r.Inject(api.Completion{UserData: 0xFFFF})
	require.ErrorIs(t, l.Step(), protocol.ErrUnknownKind)
}

func TestFailedReprovideStopsStep(t *testing.T) {
	l, r, lfd := newLoop(t, echoOnce)
	c := r.Connect(lfd, peer("192.0.2.1:1"))
	c.Send([]byte("x"))
	r.FailProvides(syscall.EIO)
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = l.Step()
	}
	require.ErrorIs(t, err, syscall.EIO)
	require.NotErrorIs(t, err, fake.ErrIdle)
}

func TestCloseDestroysSuspendedTasks(t *testing.T) {
	var unwound bool
	var deferredErr error
	h := func(fd int) *reactor.Task {
		return reactor.NewTask(func(c *reactor.Conn) error {
			defer func() {
				unwound = true
				_, _, deferredErr = c.ReadSocket()
			}()
			_, _, err := c.ReadSocket()
			return err
		})
	}
	r := fake.NewRing()
	lfd := r.Listen()
	l, err := reactor.New(r, lfd, h, reactor.WithBufferCount(4), reactor.WithMessageSize(16), reactor.WithLogger(quietLogger()))
	require.NoError(t, err)
	c := r.Connect(lfd, peer("192.0.2.1:1"))
	drive(t, l)
	require.Len(t, l.Connections(), 1)

	require.NoError(t, l.Close())
	require.True(t, unwound)
	require.ErrorIs(t, deferredErr, api.ErrOperationPending)
	require.True(t, c.Closed())
	require.ErrorIs(t, l.Step(), api.ErrQueueClosed)
	require.NoError(t, l.Close())
}
