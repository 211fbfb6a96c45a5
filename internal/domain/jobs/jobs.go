// Package jobs defines the tagged job variants carried by the queues. Each
// variant is one struct; Decode dispatches on the type tag and validates.
package jobs

import (
	"context"
	"time"
)

// Type is the job-type tag carried in message metadata.
type Type string

// Job is implemented by every queued variant.
type Job interface {
	JobType() Type
	Queue() string
	Validate() error
}

// Keyed jobs expose an idempotency key that survives manual replay, where the
// delivery id changes. Jobs without one fall back to the delivery id.
type Keyed interface {
	IdempotencyKey() string
}

type EnqueueOptions struct {
	Delay    time.Duration
	Priority int
}

type Option func(*EnqueueOptions)

func WithDelay(d time.Duration) Option {
	return func(o *EnqueueOptions) { o.Delay = d }
}

func WithPriority(p int) Option {
	return func(o *EnqueueOptions) { o.Priority = p }
}

func ApplyOptions(opts []Option) EnqueueOptions {
	var o EnqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Enqueuer publishes jobs to their queue and returns the job id.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, opts ...Option) (string, error)
}

// Queue names. Each queue runs its own worker pool.
const (
	QueueDurable       = "durable"
	QueueAnalytics     = "analytics"
	QueueNotifications = "notifications"
)

// Queues lists every queue the runtime consumes.
var Queues = []string{QueueDurable, QueueAnalytics, QueueNotifications}
