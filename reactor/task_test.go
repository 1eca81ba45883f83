package reactor_test

import (
	"testing"

	"github.com/momentics/hioload-uring/reactor"
	"github.com/stretchr/testify/require"
)

func TestTaskMoveInvalidatesSource(t *testing.T) {
	ran := false
	src := reactor.NewTask(func(*reactor.Conn) error { ran = true; return nil })
	require.True(t, src.Valid())

	dst := src.Move()
	require.False(t, src.Valid())
	require.True(t, dst.Valid())
	require.False(t, dst.Done())

	// never started: nothing to unwind
	dst.Destroy()
	require.False(t, dst.Valid())
	require.False(t, ran)
	src.Destroy()
}

func TestNilTaskInvalid(t *testing.T) {
	var task *reactor.Task
	require.False(t, task.Valid())
	require.False(t, reactor.NewTask(nil).Valid())
}
