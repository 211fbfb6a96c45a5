package workers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// Tier sets how often a worker's dependencies are probed.
type Tier string

const (
	TierCritical   Tier = "critical"
	TierNormal     Tier = "normal"
	TierBackground Tier = "background"
)

// TierFor maps a queue to its criticality. Durable persistence is the commit
// point for every cache write, so it is probed most often.
func TierFor(queue string) Tier {
	switch queue {
	case jobs.QueueDurable:
		return TierCritical
	case jobs.QueueAnalytics:
		return TierNormal
	default:
		return TierBackground
	}
}

// Probe checks one dependency, such as the cache or the database.
type Probe func(ctx context.Context) error

// WorkerHealth is the last probe result for one worker.
type WorkerHealth struct {
	Name      string    `json:"name"`
	Tier      Tier      `json:"tier"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Health probes worker dependencies on per-tier intervals.
type Health struct {
	intervals map[Tier]time.Duration
	clock     clock.Clock
	logger    *logging.ChanneledLogger

	mu      sync.RWMutex
	probes  map[string]Probe
	workers map[string]*WorkerHealth
}

func newHealth(cfg config.QueueConfig, clk clock.Clock, logger *logging.ChanneledLogger) *Health {
	return &Health{
		intervals: map[Tier]time.Duration{
			TierCritical:   orDefault(cfg.HealthCritical, time.Minute),
			TierNormal:     orDefault(cfg.HealthNormal, 5*time.Minute),
			TierBackground: orDefault(cfg.HealthBackground, 15*time.Minute),
		},
		clock:   clk,
		logger:  logger,
		probes:  make(map[string]Probe),
		workers: make(map[string]*WorkerHealth),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// AddProbe registers a dependency check run for every worker.
func (h *Health) AddProbe(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
}

func (h *Health) register(name string, tier Tier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = &WorkerHealth{Name: name, Tier: tier, Healthy: true}
}

// Interval returns the probe interval of tier.
func (h *Health) Interval(tier Tier) time.Duration { return h.intervals[tier] }

// CheckTier probes the dependencies once and records the outcome on every
// worker in tier.
func (h *Health) CheckTier(ctx context.Context, tier Tier) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	var failure string
	for name, p := range probes {
		if err := p(ctx); err != nil {
			failure = name + ": " + err.Error()
			break
		}
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.workers {
		if w.Tier != tier {
			continue
		}
		wasHealthy := w.Healthy
		w.Healthy = failure == ""
		w.Error = failure
		w.CheckedAt = now
		if wasHealthy && !w.Healthy {
			h.logger.Worker().Error().Str("worker", w.Name).Str("tier", string(tier)).Str("error", failure).Msg("Worker health check failed")
		} else if !wasHealthy && w.Healthy {
			h.logger.Worker().Info().Str("worker", w.Name).Msg("Worker health recovered")
		}
	}
}

func (h *Health) run(ctx context.Context) {
	var wg sync.WaitGroup
	for tier := range h.intervals {
		wg.Add(1)
		go func(tier Tier) {
			defer wg.Done()
			for {
				h.CheckTier(ctx, tier)
				select {
				case <-ctx.Done():
					return
				case <-h.clock.After(h.intervals[tier]):
				}
			}
		}(tier)
	}
	wg.Wait()
}

// Snapshot returns every worker's health sorted by name.
func (h *Health) Snapshot() []WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]WorkerHealth, 0, len(h.workers))
	for _, w := range h.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every worker passed its last probe.
func (h *Health) Healthy() bool {
	for _, w := range h.Snapshot() {
		if !w.Healthy {
			return false
		}
	}
	return true
}
