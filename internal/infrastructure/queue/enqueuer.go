package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/clock"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
)

// Metadata keys carried on every job message.
const (
	MetaJobType    = "job_type"
	MetaQueue      = "queue"
	MetaNotBefore  = "not_before"
	MetaPriority   = "priority"
	MetaEnqueuedAt = "enqueued_at"
	// MetaReplayOf names the failed job a manual replay was cut from.
	MetaReplayOf = "replay_of"
)

// Enqueuer publishes jobs onto their queue's topic.
type Enqueuer struct {
	transport Transport
	clock     clock.Clock
	logger    *logging.ChanneledLogger
}

var _ jobs.Enqueuer = (*Enqueuer)(nil)

func NewEnqueuer(transport Transport, clk clock.Clock, logger *logging.ChanneledLogger) *Enqueuer {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Enqueuer{transport: transport, clock: clk, logger: logger}
}

// Enqueue validates and publishes job, returning its id. Delayed jobs carry a
// not_before stamp the worker waits out before running the handler.
func (e *Enqueuer) Enqueue(ctx context.Context, job jobs.Job, opts ...jobs.Option) (string, error) {
	payload, err := jobs.Encode(job)
	if err != nil {
		return "", err
	}
	o := jobs.ApplyOptions(opts)
	now := e.clock.Now()

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetaJobType, string(job.JobType()))
	msg.Metadata.Set(MetaQueue, job.Queue())
	msg.Metadata.Set(MetaEnqueuedAt, strconv.FormatInt(now.UnixNano(), 10))
	if o.Delay > 0 {
		msg.Metadata.Set(MetaNotBefore, strconv.FormatInt(now.Add(o.Delay).UnixNano(), 10))
	}
	if o.Priority != 0 {
		msg.Metadata.Set(MetaPriority, strconv.Itoa(o.Priority))
	}

	if err := e.publish(job.Queue(), msg); err != nil {
		return "", err
	}
	e.logger.Queue().Debug().
		Str("jobId", msg.UUID).
		Str("jobType", string(job.JobType())).
		Str("queue", job.Queue()).
		Dur("delay", o.Delay).
		Msg("Job enqueued")
	return msg.UUID, nil
}

// Republish sends a previously failed job back onto its queue under a fresh
// id. The payload is decoded first so a corrupt entry is rejected up front.
func (e *Enqueuer) Republish(ctx context.Context, queue string, jobType jobs.Type, payload []byte, replayOf string) (string, error) {
	if _, err := jobs.Decode(jobType, payload); err != nil {
		return "", apperrors.Validation("replay %s: %v", replayOf, err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetaJobType, string(jobType))
	msg.Metadata.Set(MetaQueue, queue)
	msg.Metadata.Set(MetaEnqueuedAt, strconv.FormatInt(e.clock.Now().UnixNano(), 10))
	msg.Metadata.Set(MetaReplayOf, replayOf)
	if err := e.publish(queue, msg); err != nil {
		return "", err
	}
	e.logger.Queue().Info().Str("jobId", msg.UUID).Str("replayOf", replayOf).Str("queue", queue).Msg("Failed job replayed")
	return msg.UUID, nil
}

func (e *Enqueuer) publish(queue string, msg *message.Message) error {
	topic := e.transport.PublishTopic(queue)
	if err := e.transport.Publisher().Publish(topic, msg); err != nil {
		e.logger.Queue().Error().Err(err).Str("topic", topic).Str("jobId", msg.UUID).Msg("Job publish failed")
		return apperrors.Transient(errors.Wrapf(err, "publish to %s", topic))
	}
	return nil
}

// NotBefore reads the earliest run time from msg, or the zero time.
func NotBefore(msg *message.Message) time.Time {
	return metaTime(msg, MetaNotBefore)
}

// EnqueuedAt reads the enqueue time from msg, or the zero time.
func EnqueuedAt(msg *message.Message) time.Time {
	return metaTime(msg, MetaEnqueuedAt)
}

func metaTime(msg *message.Message, key string) time.Time {
	raw := msg.Metadata.Get(key)
	if raw == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
