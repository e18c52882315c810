package processor

import (
	"context"
	"sync"
)

// strategyHooks observe batch execution. Either hook may be nil. started
// fires before dispatch; finished fires once the result is in, in input
// order for the parallel strategy.
type strategyHooks struct {
	started  func(*callState)
	finished func(*callState)
}

// runSequential executes calls one at a time in input order. After a
// successful call whose name is in the terminating set, the remaining calls
// are marked skipped and never invoked.
func (p *Processor) runSequential(ctx context.Context, states []*callState, hooks strategyHooks) {
	stopped := false
	for _, cs := range states {
		if stopped {
			cs.Skipped = true
			continue
		}
		if hooks.started != nil {
			hooks.started(cs)
		}
		res := p.safeInvoke(ctx, cs.Call)
		cs.Result = &res
		if hooks.finished != nil {
			hooks.finished(cs)
		}
		if res.Success && p.isTerminating(cs.Call.FunctionName) {
			stopped = true
		}
	}
}

// runParallel fans all calls out to goroutines and joins them. Every call
// runs; there is no terminating short-circuit across concurrent work.
// finished hooks fire after the join, in input order.
func (p *Processor) runParallel(ctx context.Context, states []*callState, hooks strategyHooks) {
	for _, cs := range states {
		if hooks.started != nil {
			hooks.started(cs)
		}
	}

	var wg sync.WaitGroup
	for _, cs := range states {
		wg.Add(1)
		go func(cs *callState) {
			defer wg.Done()
			res := p.safeInvoke(ctx, cs.Call)
			cs.Result = &res
		}(cs)
	}
	wg.Wait()

	for _, cs := range states {
		if hooks.finished != nil {
			hooks.finished(cs)
		}
	}
}

// runStrategy dispatches to the configured strategy.
func (p *Processor) runStrategy(ctx context.Context, states []*callState, hooks strategyHooks) {
	if len(states) == 0 {
		return
	}
	switch p.cfg.Strategy {
	case StrategyParallel:
		p.runParallel(ctx, states, hooks)
	default:
		p.runSequential(ctx, states, hooks)
	}
}
