package reactor_test

import (
	"testing"

	"github.com/momentics/hioload-uring/api"
	"github.com/momentics/hioload-uring/reactor"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := reactor.DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, uint16(1337), cfg.BufferGroup)
	require.Equal(t, 4096, cfg.BufferCount)
	require.Equal(t, 2048, cfg.MessageSize)
	require.Equal(t, reactor.ExhaustionDefer, cfg.Exhaustion)
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*reactor.Config){
		"queue depth":  func(c *reactor.Config) { c.QueueDepth = 0 },
		"count":        func(c *reactor.Config) { c.BufferCount = 1<<16 + 1 },
		"message size": func(c *reactor.Config) { c.MessageSize = 0 },
		"policy":       func(c *reactor.Config) { c.Exhaustion = 7 },
		"deferred":     func(c *reactor.Config) { c.MaxDeferredReads = -1 },
		"batch":        func(c *reactor.Config) { c.BatchSize = 0 },
	} {
		cfg := reactor.DefaultConfig()
		mutate(&cfg)
		require.ErrorIs(t, cfg.Validate(), api.ErrInvalidArgument, name)
	}
}

func TestExhaustionPolicyText(t *testing.T) {
	var p reactor.ExhaustionPolicy
	require.NoError(t, p.UnmarshalText([]byte("FAIL")))
	require.Equal(t, reactor.ExhaustionFail, p)
	b, err := p.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "fail", string(b))
	require.ErrorIs(t, p.UnmarshalText([]byte("drop")), api.ErrInvalidArgument)
}
