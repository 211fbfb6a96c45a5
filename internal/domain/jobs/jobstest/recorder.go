// Package jobstest provides an in-memory Enqueuer for tests.
package jobstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/jobs"
)

var ErrEnqueueFailed = errors.New("enqueue failed")

// Enqueued is one recorded enqueue call.
type Enqueued struct {
	ID    string
	Job   jobs.Job
	Delay time.Duration
}

// Recorder records every enqueued job in order.
type Recorder struct {
	mu   sync.Mutex
	seq  int
	jobs []Enqueued
	fail bool
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Enqueue(_ context.Context, job jobs.Job, opts ...jobs.Option) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return "", ErrEnqueueFailed
	}
	if err := job.Validate(); err != nil {
		return "", err
	}
	o := jobs.ApplyOptions(opts)
	r.seq++
	id := fmt.Sprintf("job-%d", r.seq)
	r.jobs = append(r.jobs, Enqueued{ID: id, Job: job, Delay: o.Delay})
	return id, nil
}

// Fail makes subsequent enqueues return ErrEnqueueFailed.
func (r *Recorder) Fail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func (r *Recorder) All() []Enqueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Enqueued(nil), r.jobs...)
}

// OfType returns the recorded jobs carrying type t.
func (r *Recorder) OfType(t jobs.Type) []Enqueued {
	var out []Enqueued
	for _, e := range r.All() {
		if e.Job.JobType() == t {
			out = append(out, e)
		}
	}
	return out
}

// Drain returns and forgets everything recorded so far.
func (r *Recorder) Drain() []Enqueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.jobs
	r.jobs = nil
	return out
}
