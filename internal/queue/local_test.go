package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
)

type recordingHandler struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
	want int
}

func newRecordingHandler(want int) *recordingHandler {
	return &recordingHandler{done: make(chan struct{}), want: want}
}

func (h *recordingHandler) Handle(_ context.Context, job Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	if len(h.jobs) == h.want {
		close(h.done)
	}
	return nil
}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
}

func TestLocal(t *testing.T) {
	logs.Discard()

	t.Run("Given a started queue When a job is enqueued Then the handler receives it", func(t *testing.T) {
		q := NewLocal(8, 2)
		h := newRecordingHandler(1)
		q.Start(context.Background(), h)
		defer q.Close()

		if err := q.Enqueue(context.Background(), DeliverUpdate(7)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		h.wait(t)
		if h.jobs[0].PassUpdateID != 7 || h.jobs[0].EnqueuedAt.IsZero() {
			t.Errorf("unexpected job %+v", h.jobs[0])
		}
	})

	t.Run("Given a delay When EnqueueAfter is used Then the job arrives after it", func(t *testing.T) {
		q := NewLocal(8, 1)
		h := newRecordingHandler(1)
		q.Start(context.Background(), h)
		defer q.Close()

		start := time.Now()
		if err := q.EnqueueAfter(context.Background(), ProcessBulk(3), 50*time.Millisecond); err != nil {
			t.Fatalf("EnqueueAfter: %v", err)
		}
		h.wait(t)
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("job arrived after %v, want >= 50ms", elapsed)
		}
	})

	t.Run("Given a full buffer When enqueueing Then ErrFull is returned", func(t *testing.T) {
		q := NewLocal(1, 1)
		if err := q.Enqueue(context.Background(), DeliverUpdate(1)); err != nil {
			t.Fatalf("first Enqueue: %v", err)
		}
		if err := q.Enqueue(context.Background(), DeliverUpdate(2)); !errors.Is(err, ErrFull) {
			t.Errorf("second Enqueue error = %v, want ErrFull", err)
		}
		q.Start(context.Background(), HandlerFunc(func(context.Context, Job) error { return nil }))
		q.Close()
	})

	t.Run("Given a closed queue When enqueueing Then ErrClosed is returned", func(t *testing.T) {
		q := NewLocal(1, 1)
		q.Start(context.Background(), HandlerFunc(func(context.Context, Job) error { return nil }))
		q.Close()
		if err := q.Enqueue(context.Background(), DeliverUpdate(1)); !errors.Is(err, ErrClosed) {
			t.Errorf("Enqueue error = %v, want ErrClosed", err)
		}
		if err := q.EnqueueAfter(context.Background(), DeliverUpdate(1), time.Second); !errors.Is(err, ErrClosed) {
			t.Errorf("EnqueueAfter error = %v, want ErrClosed", err)
		}
	})
}

func TestDecode(t *testing.T) {
	body, err := Encode(Job{Kind: KindDeliverUpdate, PassUpdateID: 9, Attempt: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	job, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if job.PassUpdateID != 9 || job.Attempt != 2 {
		t.Errorf("Decode() = %+v", job)
	}

	bad := []string{
		`not json`,
		`{"kind":"unknown"}`,
		`{"kind":"pass_update.deliver"}`,
		`{"kind":"bulk_update.process"}`,
	}
	for _, b := range bad {
		if _, err := Decode([]byte(b)); err == nil {
			t.Errorf("Decode(%s) succeeded, want error", b)
		}
	}
}

func TestDelayQueueName(t *testing.T) {
	if got := DelayQueueName("wallet.jobs", 30*time.Second); got != "wallet.jobs.delay.30000" {
		t.Errorf("DelayQueueName() = %q", got)
	}
}
