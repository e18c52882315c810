package runs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/z1w2r3/suna-sub001/internal/observability"
)

// Run is one tracked in-flight model run.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	StartedAt time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// Registry tracks active runs so they can be listed and aborted. Runs are
// ephemeral here; everything durable about them lives in the thread store.
type Registry struct {
	active map[string]*Run
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		active: make(map[string]*Run),
		logger: logger,
	}
}

// NewRunID mints a run identifier.
func NewRunID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}
	return "run_" + id, nil
}

// Start registers an in-flight run with its abort handle. The id must not be
// in use.
func (r *Registry) Start(id, threadID string, cancel context.CancelFunc) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if cancel == nil {
		return nil, fmt.Errorf("cancel func is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[id]; exists {
		return nil, fmt.Errorf("run already registered: %s", id)
	}

	run := &Run{
		ID:        id,
		ThreadID:  threadID,
		StartedAt: time.Now(),
		cancel:    cancel,
	}
	r.active[id] = run

	r.logger.Debug().Str("run_id", id).Str("thread_id", threadID).Msg("Run registered")
	return run, nil
}

// Finish removes a run without aborting it. Owners call it when the run
// returns on its own.
func (r *Registry) Finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Stop aborts a run and removes it. Stopping an unknown or already-finished
// run is a no-op reporting false.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	run, exists := r.active[id]
	if exists {
		delete(r.active, id)
	}
	r.mu.Unlock()

	if !exists {
		r.logger.Debug().Str("run_id", id).Msg("No active run to stop")
		return false
	}

	r.logger.Info().Str("run_id", id).Str("thread_id", run.ThreadID).Msg("Stopping run")
	observability.RecordRunAudit(context.Background(), "run_stop", run.ThreadID, "stopped", map[string]interface{}{
		"run_id": id,
	})
	run.cancel()
	return true
}

// StopAll aborts every active run and returns how many it stopped. Used at
// shutdown.
func (r *Registry) StopAll() int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	stopped := 0
	for _, id := range ids {
		if r.Stop(id) {
			stopped++
		}
	}
	return stopped
}

// Get returns a snapshot of one active run.
func (r *Registry) Get(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, exists := r.active[id]
	if !exists {
		return Run{}, false
	}
	return *run, true
}

// IsActive reports whether a run is registered.
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.active[id]
	return exists
}

// List returns snapshots of every active run, oldest first.
func (r *Registry) List() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Run, 0, len(r.active))
	for _, run := range r.active {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of active runs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
