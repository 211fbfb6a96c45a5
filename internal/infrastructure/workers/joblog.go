package workers

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/codec"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/caching/interfaces"
)

const (
	stateCompleted = "completed"
	stateFailed    = "failed"
)

// Record is one entry in a queue's completed or failed log. Failed records
// keep the payload so the job can be replayed by hand.
type Record struct {
	ID         string    `cbor:"id" json:"id"`
	Queue      string    `cbor:"queue" json:"queue"`
	Type       string    `cbor:"type" json:"type"`
	Payload    []byte    `cbor:"payload,omitempty" json:"payload,omitempty"`
	Error      string    `cbor:"error,omitempty" json:"error,omitempty"`
	Attempts   int       `cbor:"attempts" json:"attempts"`
	ReplayOf   string    `cbor:"replayOf,omitempty" json:"replayOf,omitempty"`
	EnqueuedAt time.Time `cbor:"enqueuedAt" json:"enqueuedAt"`
	FinishedAt time.Time `cbor:"finishedAt" json:"finishedAt"`
}

// JobLog keeps bounded newest-first lists of finished jobs per queue.
type JobLog struct {
	kv        interfaces.KV
	codec     *codec.Codec
	completed int
	failed    int
}

func NewJobLog(kv interfaces.KV, c *codec.Codec, completedRetention, failedRetention int) *JobLog {
	return &JobLog{kv: kv, codec: c, completed: completedRetention, failed: failedRetention}
}

func (l *JobLog) Completed(ctx context.Context, rec Record) error {
	// completed entries only need identity and timing
	rec.Payload = nil
	return l.push(ctx, rec.Queue, stateCompleted, l.completed, rec)
}

func (l *JobLog) Failed(ctx context.Context, rec Record) error {
	return l.push(ctx, rec.Queue, stateFailed, l.failed, rec)
}

func (l *JobLog) push(ctx context.Context, queue, state string, max int, rec Record) error {
	raw, err := l.codec.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode job record")
	}
	return l.kv.ListPushTrim(ctx, caching.JobLogKey(queue, state), max, raw)
}

// ListCompleted returns up to limit completed records of queue, newest first.
func (l *JobLog) ListCompleted(ctx context.Context, queue string, limit int) ([]Record, error) {
	recs, _, err := l.list(ctx, queue, stateCompleted, limit)
	return recs, err
}

// ListFailed returns up to limit failed records across queues, newest first.
func (l *JobLog) ListFailed(ctx context.Context, queues []string, limit int) ([]Record, error) {
	var out []Record
	for _, q := range queues {
		recs, _, err := l.list(ctx, q, stateFailed, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TakeFailed removes the failed record id from whichever queue holds it.
func (l *JobLog) TakeFailed(ctx context.Context, queues []string, id string) (Record, error) {
	for _, q := range queues {
		recs, raws, err := l.list(ctx, q, stateFailed, 0)
		if err != nil {
			return Record{}, err
		}
		for i, rec := range recs {
			if rec.ID != id {
				continue
			}
			if err := l.kv.ListRemove(ctx, caching.JobLogKey(q, stateFailed), raws[i]); err != nil {
				return Record{}, errors.Wrap(err, "remove failed job")
			}
			return rec, nil
		}
	}
	return Record{}, apperrors.NotFound("failed job", id)
}

func (l *JobLog) list(ctx context.Context, queue, state string, limit int) ([]Record, [][]byte, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raws, err := l.kv.ListRange(ctx, caching.JobLogKey(queue, state), 0, stop)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s jobs of %s", state, queue)
	}
	recs := make([]Record, 0, len(raws))
	kept := make([][]byte, 0, len(raws))
	for _, raw := range raws {
		var rec Record
		if err := l.codec.Unmarshal(raw, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
		kept = append(kept, raw)
	}
	return recs, kept, nil
}
