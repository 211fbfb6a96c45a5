// Package workers runs one Watermill worker pool per job queue. Each message
// is decoded from its type tag and dispatched to the handler registered for
// that type; retries, poisoning, panic recovery and the job log are applied
// as router middleware.
package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/queue"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// Delivery is a decoded job handed to a handler.
type Delivery struct {
	ID    string
	Queue string
	// Key identifies the job across redeliveries and manual replays.
	Key string
	Job jobs.Job
}

// HandlerFunc processes one delivery. Returned errors are retried unless
// apperrors classifies them as permanent or deterministic.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Republisher puts a failed job back on its queue.
type Republisher interface {
	Republish(ctx context.Context, queue string, jobType jobs.Type, payload []byte, replayOf string) (string, error)
}

// Runtime owns the router, the handler registry and the job log.
type Runtime struct {
	cfg       config.QueueConfig
	transport queue.Transport
	log       *JobLog
	replay    Republisher
	clock     clock.Clock
	logger    *logging.ChanneledLogger
	health    *Health

	mu       sync.RWMutex
	handlers map[jobs.Type]HandlerFunc
	router   *message.Router
}

// NewRuntime builds a runtime for every queue in jobs.Queues.
func NewRuntime(cfg config.QueueConfig, transport queue.Transport, log *JobLog, replay Republisher, clk clock.Clock, logger *logging.ChanneledLogger) (*Runtime, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	router, err := message.NewRouter(message.RouterConfig{}, logging.NewWatermillAdapter(logger.Worker()))
	if err != nil {
		return nil, errors.Wrap(err, "create job router")
	}
	r := &Runtime{
		cfg:       cfg,
		transport: transport,
		log:       log,
		replay:    replay,
		clock:     clk,
		logger:    logger,
		handlers:  make(map[jobs.Type]HandlerFunc),
		router:    router,
	}
	r.health = newHealth(cfg, clk, logger)
	if err := r.installMiddleware(); err != nil {
		return nil, err
	}
	return r, nil
}

// Middleware runs outermost first: the delay wait, then the poison queue,
// the job log, retries, attempt counting and panic recovery.
func (r *Runtime) installMiddleware() error {
	poison, err := middleware.PoisonQueue(r.transport.Publisher(), queue.PoisonTopic)
	if err != nil {
		return errors.Wrap(err, "create poison queue")
	}
	retry := middleware.Retry{
		MaxRetries:      r.cfg.MaxAttempts - 1,
		InitialInterval: r.cfg.BackoffBase,
		MaxInterval:     r.cfg.BackoffMax,
		Multiplier:      2,
		ShouldRetry: func(p middleware.RetryParams) bool {
			return apperrors.IsRetryable(p.Err)
		},
		ResetContextOnRetry: true,
		Logger:              logging.NewWatermillAdapter(r.logger.Worker()),
	}
	r.router.AddMiddleware(
		delay(r.clock),
		poison,
		recordOutcome(r.log, r.clock, r.logger),
		retry.Middleware,
		countAttempts,
		middleware.Recoverer,
	)
	return nil
}

// Handle registers h for job type t. Registration must finish before Run.
func (r *Runtime) Handle(t jobs.Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Run subscribes every worker and blocks until ctx ends or Close is called.
func (r *Runtime) Run(ctx context.Context) error {
	for _, q := range jobs.Queues {
		n := r.cfg.ConcurrencyFor(q)
		for w := range n {
			sub, err := r.transport.Subscriber(q, w)
			if err != nil {
				return err
			}
			name := fmt.Sprintf("%s-%d", q, w)
			r.router.AddConsumerHandler(name, r.transport.SubscribeTopic(q, w), sub, r.dispatch)
			r.health.register(name, TierFor(q))
		}
		r.logger.Startup().Info().Str("queue", q).Int("workers", n).Msg("Job workers registered")
	}

	go r.health.run(ctx)
	return r.router.Run(ctx)
}

// Running is closed once every worker has subscribed.
func (r *Runtime) Running() chan struct{} { return r.router.Running() }

func (r *Runtime) Close() error {
	r.logger.Shutdown().Info().Msg("Stopping job workers")
	return r.router.Close()
}

// Health exposes the per-worker health state.
func (r *Runtime) Health() *Health { return r.health }

func (r *Runtime) JobLog() *JobLog { return r.log }

func (r *Runtime) dispatch(msg *message.Message) error {
	t := jobs.Type(msg.Metadata.Get(queue.MetaJobType))
	job, err := jobs.Decode(t, msg.Payload)
	if err != nil {
		return err
	}
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	if !ok {
		return apperrors.Permanent(fmt.Errorf("no handler registered for %s", t))
	}
	return h(msg.Context(), Delivery{
		ID:    msg.UUID,
		Queue: msg.Metadata.Get(queue.MetaQueue),
		Key:   deliveryKey(job, msg),
		Job:   job,
	})
}

// Failed lists failed jobs across all queues, newest first.
func (r *Runtime) Failed(ctx context.Context, limit int) ([]Record, error) {
	return r.log.ListFailed(ctx, jobs.Queues, limit)
}

// Replay takes the failed job id out of the failed log and enqueues it again.
// If the republish fails the record is restored.
func (r *Runtime) Replay(ctx context.Context, id string) (string, error) {
	rec, err := r.log.TakeFailed(ctx, jobs.Queues, id)
	if err != nil {
		return "", err
	}
	origin := rec.ID
	if rec.ReplayOf != "" {
		origin = rec.ReplayOf
	}
	newID, err := r.replay.Republish(ctx, rec.Queue, jobs.Type(rec.Type), rec.Payload, origin)
	if err != nil {
		if restoreErr := r.log.Failed(ctx, rec); restoreErr != nil {
			r.logger.Worker().Error().Err(restoreErr).Str("jobId", id).Msg("Failed to restore failed job after replay error")
		}
		return "", err
	}
	return newID, nil
}
