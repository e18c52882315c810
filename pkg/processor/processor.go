package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/pkg/tools"
)

// Options wires a Processor.
type Options struct {
	Config   Config
	Registry *tools.Registry
	Store    MessageStore
	Logger   zerolog.Logger

	// Invoker overrides the default invoker built from Registry. Optional.
	Invoker *tools.Invoker
}

// Processor orchestrates tool-call detection, execution, and reporting for
// model responses. Safe for concurrent use; each response gets its own turn
// state.
type Processor struct {
	cfg         Config
	registry    *tools.Registry
	invoker     *tools.Invoker
	store       MessageStore
	logger      zerolog.Logger
	terminating map[string]struct{}
}

// New creates a processor. Empty strategy and placement fall back to the
// defaults before validation.
func New(opts Options) (*Processor, error) {
	observability.EnsureRegistered()

	if opts.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("message store is required")
	}

	cfg := opts.Config
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySequential
	}
	if cfg.ResultPlacement == "" {
		cfg.ResultPlacement = PlacementUserMessage
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}

	invoker := opts.Invoker
	if invoker == nil {
		invoker = tools.NewInvoker(opts.Registry)
	}

	terminating := make(map[string]struct{}, len(cfg.TerminatingTools))
	for _, name := range cfg.TerminatingTools {
		terminating[name] = struct{}{}
	}

	return &Processor{
		cfg:         cfg,
		registry:    opts.Registry,
		invoker:     invoker,
		store:       opts.Store,
		logger:      opts.Logger,
		terminating: terminating,
	}, nil
}

// Config returns the effective configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

func (p *Processor) isTerminating(name string) bool {
	_, ok := p.terminating[name]
	return ok
}

// safeInvoke shields the orchestrator from a panicking invoker. The invoker
// already recovers handler panics; this covers the invoker itself.
func (p *Processor) safeInvoke(ctx context.Context, call tools.Call) (res tools.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = tools.Result{
				Success: false,
				Error:   fmt.Sprintf("tool invocation panicked: %v", rec),
				Faulted: true,
			}
		}
	}()
	return p.invoker.Invoke(ctx, call)
}
