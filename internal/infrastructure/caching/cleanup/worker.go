// Package cleanup provides the background sweeper for the in-process cache backend.
package cleanup

import (
	"context"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// Sweeper is implemented by backends that reclaim expired keys lazily.
// Redis expires keys itself and needs no worker.
type Sweeper interface {
	Stats() types.Stats
	Sweep() types.SweepResult
}

// Worker handles background cache cleanup operations
type Worker struct {
	store    Sweeper
	config   *Config
	reporter *Reporter
	logger   *logging.ChanneledLogger
}

// NewWorker creates a new cleanup worker with injected configuration
func NewWorker(store Sweeper, config *Config, logger *logging.ChanneledLogger) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Worker{
		store:    store,
		config:   config,
		reporter: NewReporter(),
		logger:   logger,
	}
}

// Start begins the cleanup worker routine, using the configured interval
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	w.logger.Cache().Info().
		Dur("interval", w.config.CleanupInterval).
		Bool("verbose", w.config.VerboseReporting).
		Msg("Cache cleanup worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Shutdown().Info().Msg("Cache cleanup worker stopping")
			return nil
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs a single sweep and reports it.
func (w *Worker) RunOnce() types.SweepResult {
	if w.config.VerboseReporting {
		w.reporter.LogStage("PERIODIC CACHE CLEANUP")
		w.reporter.PrintStats(w.store.Stats())
	}

	result := w.store.Sweep()

	event := w.logger.Cache().Debug()
	if result.Removed > 0 {
		event = w.logger.Cache().Info()
	}
	event.
		Int("removed", result.Removed).
		Int("values", result.After.Values).
		Int("sets", result.After.Sets).
		Int("lists", result.After.Lists).
		Int64("approxBytes", result.After.ApproxBytes).
		Dur("duration", result.Duration).
		Msg("Cache cleanup finished")

	if w.config.VerboseReporting {
		if result.Removed > 0 {
			w.reporter.LogSuccess("Cache cleanup finished: %d expired keys removed in %v", result.Removed, result.Duration)
		} else {
			w.reporter.LogInfo("Cache cleanup completed - no expired keys found (%v)", result.Duration)
		}
	}
	return result
}
