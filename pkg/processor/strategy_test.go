package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z1w2r3/suna-sub001/pkg/thread"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

// invocationLog records handler executions across goroutines.
type invocationLog struct {
	mu    sync.Mutex
	names []string
}

func (l *invocationLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *invocationLog) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

func newTestProcessor(t *testing.T, cfg Config, register func(*tools.Registry)) (*Processor, *thread.MemoryStore) {
	t.Helper()
	reg := tools.NewRegistry()
	if register != nil {
		register(reg)
	}
	store := thread.NewMemoryStore()
	proc, err := New(Options{
		Config:   cfg,
		Registry: reg,
		Store:    store,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return proc, store
}

func registerRecording(t *testing.T, reg *tools.Registry, log *invocationLog, names ...string) {
	t.Helper()
	for _, name := range names {
		name := name
		require.NoError(t, reg.Register(tools.Definition{
			Name:        name,
			Description: "recording tool",
			Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
				log.add(name)
				return "done:" + name, nil
			},
		}))
	}
}

func statesFor(names ...string) []*callState {
	states := make([]*callState, 0, len(names))
	for i, name := range names {
		states = append(states, &callState{
			Call:  tools.NewXMLCall(name, "", map[string]interface{}{}, nil),
			Index: i,
		})
	}
	return states
}

func TestRunSequential(t *testing.T) {
	t.Run("should produce one result per call in input order", func(t *testing.T) {
		log := &invocationLog{}
		proc, _ := newTestProcessor(t, DefaultConfig(), func(reg *tools.Registry) {
			registerRecording(t, reg, log, "alpha", "beta", "gamma")
		})

		states := statesFor("alpha", "beta", "gamma")
		proc.runSequential(context.Background(), states, strategyHooks{})

		require.Len(t, states, 3)
		for i, cs := range states {
			require.NotNil(t, cs.Result, "call %d has no result", i)
			assert.True(t, cs.Result.Success)
			assert.False(t, cs.Skipped)
		}
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, log.seen())
	})

	t.Run("should skip remaining calls after a terminating success", func(t *testing.T) {
		log := &invocationLog{}
		cfg := DefaultConfig()
		cfg.TerminatingTools = []string{"ask"}
		proc, _ := newTestProcessor(t, cfg, func(reg *tools.Registry) {
			registerRecording(t, reg, log, "search", "ask", "cleanup")
		})

		states := statesFor("search", "ask", "cleanup")
		proc.runSequential(context.Background(), states, strategyHooks{})

		assert.Equal(t, []string{"search", "ask"}, log.seen())
		assert.NotNil(t, states[0].Result)
		assert.NotNil(t, states[1].Result)
		assert.Nil(t, states[2].Result)
		assert.True(t, states[2].Skipped)
	})

	t.Run("should not skip after a failed terminating call", func(t *testing.T) {
		log := &invocationLog{}
		cfg := DefaultConfig()
		cfg.TerminatingTools = []string{"ask"}
		proc, _ := newTestProcessor(t, cfg, func(reg *tools.Registry) {
			require.NoError(t, reg.Register(tools.Definition{
				Name:        "ask",
				Description: "failing ask",
				Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
					log.add("ask")
					return nil, errors.New("no user available")
				},
			}))
			registerRecording(t, reg, log, "cleanup")
		})

		states := statesFor("ask", "cleanup")
		proc.runSequential(context.Background(), states, strategyHooks{})

		assert.Equal(t, []string{"ask", "cleanup"}, log.seen())
		assert.False(t, states[0].Result.Success)
		assert.True(t, states[1].Result.Success)
	})

	t.Run("should fire hooks around each call", func(t *testing.T) {
		log := &invocationLog{}
		proc, _ := newTestProcessor(t, DefaultConfig(), func(reg *tools.Registry) {
			registerRecording(t, reg, log, "one", "two")
		})

		var events []string
		hooks := strategyHooks{
			started:  func(cs *callState) { events = append(events, "start:"+cs.Call.FunctionName) },
			finished: func(cs *callState) { events = append(events, "done:"+cs.Call.FunctionName) },
		}
		proc.runSequential(context.Background(), statesFor("one", "two"), hooks)

		assert.Equal(t, []string{"start:one", "done:one", "start:two", "done:two"}, events)
	})
}

func TestRunParallel(t *testing.T) {
	t.Run("should run every call and keep input order in results", func(t *testing.T) {
		log := &invocationLog{}
		cfg := DefaultConfig()
		cfg.Strategy = StrategyParallel
		proc, _ := newTestProcessor(t, cfg, func(reg *tools.Registry) {
			require.NoError(t, reg.Register(tools.Definition{
				Name:        "slow",
				Description: "slow tool",
				Handler: func(ctx context.Context, args interface{}) (interface{}, error) {
					time.Sleep(20 * time.Millisecond)
					log.add("slow")
					return "slow done", nil
				},
			}))
			registerRecording(t, reg, log, "fast")
		})

		states := statesFor("slow", "fast")
		proc.runParallel(context.Background(), states, strategyHooks{})

		require.NotNil(t, states[0].Result)
		require.NotNil(t, states[1].Result)
		assert.Equal(t, "slow done", states[0].Result.Output)
		assert.Equal(t, "done:fast", states[1].Result.Output)
		assert.ElementsMatch(t, []string{"slow", "fast"}, log.seen())
	})

	t.Run("should not short-circuit on terminating success", func(t *testing.T) {
		log := &invocationLog{}
		cfg := DefaultConfig()
		cfg.Strategy = StrategyParallel
		cfg.TerminatingTools = []string{"ask"}
		proc, _ := newTestProcessor(t, cfg, func(reg *tools.Registry) {
			registerRecording(t, reg, log, "ask", "other")
		})

		states := statesFor("ask", "other")
		proc.runParallel(context.Background(), states, strategyHooks{})

		assert.ElementsMatch(t, []string{"ask", "other"}, log.seen())
		assert.False(t, states[0].Skipped)
		assert.False(t, states[1].Skipped)
	})

	t.Run("should fire all started hooks before any finished hook", func(t *testing.T) {
		proc, _ := newTestProcessor(t, DefaultConfig(), func(reg *tools.Registry) {
			registerRecording(t, reg, &invocationLog{}, "a", "b")
		})

		var events []string
		hooks := strategyHooks{
			started:  func(cs *callState) { events = append(events, "start:"+cs.Call.FunctionName) },
			finished: func(cs *callState) { events = append(events, "done:"+cs.Call.FunctionName) },
		}
		proc.runParallel(context.Background(), statesFor("a", "b"), hooks)

		assert.Equal(t, []string{"start:a", "start:b", "done:a", "done:b"}, events)
	})

	t.Run("should turn a missing tool into a failed result", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Strategy = StrategyParallel
		proc, _ := newTestProcessor(t, cfg, nil)

		states := statesFor("ghost")
		proc.runParallel(context.Background(), states, strategyHooks{})

		require.NotNil(t, states[0].Result)
		assert.False(t, states[0].Result.Success)
		assert.Contains(t, states[0].Result.Error, "tool not found")
	})
}
