package workers

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/queue"
)

const metaAttempt = "attempt"

// delay holds a message until its not_before stamp passes. Delivery order on
// a shard follows enqueue order, so waiting in place keeps later jobs behind.
func delay(clk clock.Clock) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if wait := queue.NotBefore(msg).Sub(clk.Now()); wait > 0 {
				select {
				case <-clk.After(wait):
				case <-msg.Context().Done():
					return nil, msg.Context().Err()
				}
			}
			return h(msg)
		}
	}
}

// countAttempts sits inside the retry middleware and counts handler runs.
func countAttempts(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		msg.Metadata.Set(metaAttempt, strconv.Itoa(attempts(msg)+1))
		return h(msg)
	}
}

func attempts(msg *message.Message) int {
	n, _ := strconv.Atoi(msg.Metadata.Get(metaAttempt))
	return n
}

// recordOutcome appends the final result of a delivery, after retries, to
// the job log. Log write failures are logged and never fail the job.
func recordOutcome(log *JobLog, clk clock.Clock, logger *logging.ChanneledLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := clk.Now()
			produced, err := h(msg)

			rec := Record{
				ID:         msg.UUID,
				Queue:      msg.Metadata.Get(queue.MetaQueue),
				Type:       msg.Metadata.Get(queue.MetaJobType),
				Attempts:   attempts(msg),
				ReplayOf:   msg.Metadata.Get(queue.MetaReplayOf),
				EnqueuedAt: queue.EnqueuedAt(msg),
				FinishedAt: clk.Now(),
			}
			event := logger.Worker().Info()
			// context of the delivery may already be cancelled
			ctx := context.WithoutCancel(msg.Context())
			if err != nil {
				rec.Payload = msg.Payload
				rec.Error = err.Error()
				if logErr := log.Failed(ctx, rec); logErr != nil {
					logger.Worker().Warn().Err(logErr).Str("jobId", rec.ID).Msg("Failed to record failed job")
				}
				event = logger.Worker().Error().Err(err).Bool("retryable", apperrors.IsRetryable(err))
			} else if logErr := log.Completed(ctx, rec); logErr != nil {
				logger.Worker().Warn().Err(logErr).Str("jobId", rec.ID).Msg("Failed to record completed job")
			}
			event.
				Str("jobId", rec.ID).
				Str("jobType", rec.Type).
				Str("queue", rec.Queue).
				Int("attempts", rec.Attempts).
				Dur("duration", rec.FinishedAt.Sub(start)).
				Msg(outcome(err))
			return produced, err
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "Job failed"
	}
	return "Job completed"
}

// deliveryKey is the idempotency key a handler claims in the job ledger.
// Replays of jobs without their own key reuse the original delivery id.
func deliveryKey(job jobs.Job, msg *message.Message) string {
	if k, ok := job.(jobs.Keyed); ok {
		return k.IdempotencyKey()
	}
	if orig := msg.Metadata.Get(queue.MetaReplayOf); orig != "" {
		return orig
	}
	return msg.UUID
}
