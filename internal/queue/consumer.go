package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/metrics"
)

// Consumer feeds jobs from the durable jobs queue to a Handler using a
// fixed number of worker goroutines.
type Consumer struct {
	URL      string
	Queue    string
	Prefetch int
	Workers  int
}

// Run connects to the broker and consumes until ctx is cancelled. It
// keeps reconnecting with exponential backoff while the broker is
// unreachable and only returns once ctx is done.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			logs.Logger.WithError(err).Warnf("queue-consumer: failed to dial broker; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn, h)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Logger.WithError(err).Warn("queue-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, h Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		logs.Logger.WithError(err).Warn("queue-consumer: set QoS failed")
	}
	if err := declareJobsQueue(ch, c.Queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range msgs {
				c.handleDelivery(ctx, d, h)
			}
		}()
	}
	wg.Wait()
	return errors.New("deliveries channel closed")
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, h Handler) {
	job, err := Decode(d.Body)
	if err != nil {
		logs.Logger.WithError(err).Error("queue-consumer: undecodable message")
		_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
		return
	}
	if err := Dispatch(ctx, h, job); err != nil {
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Dispatch runs h for one job and records its outcome.
func Dispatch(ctx context.Context, h Handler, job Job) error {
	start := time.Now()
	err := h.Handle(ctx, job)
	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueueJobs.WithLabelValues(string(job.Kind), "error").Inc()
		logs.Logger.WithError(err).WithFields(logrus.Fields{
			"kind":           job.Kind,
			"pass_update_id": job.PassUpdateID,
			"bulk_update_id": job.BulkUpdateID,
			"attempt":        job.Attempt,
		}).Error("queue: job failed")
		return err
	}
	metrics.QueueJobs.WithLabelValues(string(job.Kind), "ok").Inc()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
