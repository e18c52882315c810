package runs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor stops runs that outlived their TTL, on a cron schedule. A swept
// run is canceled like any other abort; its usage finalizer still settles.
type Janitor struct {
	registry *Registry
	ttl      time.Duration
	logger   zerolog.Logger
	cron     *cron.Cron
}

// NewJanitor creates a janitor sweeping on the given cron expression.
func NewJanitor(registry *Registry, schedule string, ttl time.Duration, logger zerolog.Logger) (*Janitor, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("run TTL must be positive")
	}

	j := &Janitor{
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		cron:     cron.New(),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule: %w", err)
	}
	return j, nil
}

// Start begins the sweep schedule.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().Dur("run_ttl", j.ttl).Msg("Janitor started")
}

// Stop halts the schedule and waits for any sweep in flight.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info().Msg("Janitor stopped")
}

// Sweep stops every run older than the TTL and returns how many it stopped.
func (j *Janitor) Sweep() int {
	cutoff := time.Now().Add(-j.ttl)
	swept := 0

	for _, run := range j.registry.List() {
		if run.StartedAt.After(cutoff) {
			continue
		}
		j.logger.Warn().
			Str("run_id", run.ID).
			Str("thread_id", run.ThreadID).
			Time("started_at", run.StartedAt).
			Msg("Stopping stale run")
		if j.registry.Stop(run.ID) {
			swept++
		}
	}

	if swept > 0 {
		j.logger.Info().Int("swept", swept).Msg("Stale run sweep finished")
	}
	return swept
}
