// Package queue carries background jobs between request handlers and the
// worker pool. Payloads are JSON and delivery is at least once, so every
// handler must tolerate seeing the same job twice.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// Kind routes a job to its handler.
type Kind string

const (
	// KindDeliverUpdate fans a PassUpdate out to wallet channels.
	KindDeliverUpdate Kind = "pass_update.deliver"
	// KindProcessBulk runs a BulkUpdate.
	KindProcessBulk Kind = "bulk_update.process"
)

// Job is the payload exchanged over the queue.
type Job struct {
	Kind         Kind             `json:"kind"`
	PassUpdateID uint64           `json:"pass_update_id,omitempty"`
	Channels     []model.Platform `json:"channels,omitempty"` // empty means every pending channel
	Attempt      int              `json:"attempt,omitempty"`  // zero based delivery attempt
	BulkUpdateID uint64           `json:"bulk_update_id,omitempty"`
	EnqueuedAt   time.Time        `json:"enqueued_at"`
}

// DeliverUpdate builds the first delivery job of a PassUpdate.
func DeliverUpdate(passUpdateID uint64) Job {
	return Job{Kind: KindDeliverUpdate, PassUpdateID: passUpdateID}
}

// ProcessBulk builds the job that runs a BulkUpdate.
func ProcessBulk(bulkUpdateID uint64) Job {
	return Job{Kind: KindProcessBulk, BulkUpdateID: bulkUpdateID}
}

// Enqueuer accepts jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
	// EnqueueAfter makes the job visible to workers once delay has passed.
	EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error
}

// Handler processes one job. A returned error rejects the message.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Encode serialises a job, stamping EnqueuedAt when unset.
func Encode(job Job) ([]byte, error) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return json.Marshal(job)
}

// Decode parses and validates a job payload.
func Decode(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal: %w", err)
	}
	switch job.Kind {
	case KindDeliverUpdate:
		if job.PassUpdateID == 0 {
			return Job{}, fmt.Errorf("%s: missing pass_update_id", job.Kind)
		}
	case KindProcessBulk:
		if job.BulkUpdateID == 0 {
			return Job{}, fmt.Errorf("%s: missing bulk_update_id", job.Kind)
		}
	default:
		return Job{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	return job, nil
}
