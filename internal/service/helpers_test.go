package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/queue"
	"github.com/iliyamo/wallet-pass-engine/internal/repository/memstore"
)

const (
	owner  uint64 = 1
	tenant uint64 = 2
)

type delayedJob struct {
	job   queue.Job
	delay time.Duration
}

// recordingQueue is an Enqueuer that keeps every job in memory.
type recordingQueue struct {
	mu      sync.Mutex
	jobs    []queue.Job
	delayed []delayedJob
	err     error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) EnqueueAfter(_ context.Context, job queue.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.delayed = append(q.delayed, delayedJob{job: job, delay: delay})
	return nil
}

func (q *recordingQueue) Jobs() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Job(nil), q.jobs...)
}

func (q *recordingQueue) Delayed() []delayedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]delayedJob(nil), q.delayed...)
}

// fakePusher answers pushes from a per-token error table.
type fakePusher struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (p *fakePusher) Push(_ context.Context, token, topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, token)
	return p.errs[token]
}

func (p *fakePusher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeGoogle fails with err while it is set.
type fakeGoogle struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *fakeGoogle) UpdateObject(_ context.Context, p *model.Pass) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.err
}

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	logs.Discard()
	return memstore.New()
}

func addPass(s *memstore.Store, mutate func(p *model.Pass)) *model.Pass {
	p := model.Pass{
		UserID:    owner,
		Platforms: []model.Platform{model.PlatformApple, model.PlatformGoogle},
		UsageType: model.UsageSingle,
		Data:      map[string]string{"seat": "1A"},
	}
	if mutate != nil {
		mutate(&p)
	}
	return s.AddPass(p)
}

func ptrTime(t time.Time) *time.Time { return &t }

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("error kind = %s (%v), want %s", got, err, want)
	}
}

var errBoom = errors.New("boom")

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }
