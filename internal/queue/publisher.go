package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
)

// Publisher publishes jobs to RabbitMQ over one long-lived channel. The
// connection is dialled lazily and re-dialled after the broker drops it.
type Publisher struct {
	url   string
	queue string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewPublisher returns a publisher for the given jobs queue.
func NewPublisher(url, queue string) *Publisher {
	return &Publisher{url: url, queue: queue, declared: map[string]bool{}}
}

// Enqueue publishes a persistent job to the jobs queue.
func (p *Publisher) Enqueue(ctx context.Context, job Job) error {
	return p.publish(ctx, p.queue, job, nil)
}

// EnqueueAfter publishes the job to a per-delay holding queue whose
// messages expire after delay and are dead-lettered onto the jobs queue.
func (p *Publisher) EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return p.Enqueue(ctx, job)
	}
	name := DelayQueueName(p.queue, delay)
	args := amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": p.queue,
	}
	return p.publish(ctx, name, job, args)
}

// DelayQueueName names the holding queue used for a retry delay.
func DelayQueueName(queue string, delay time.Duration) string {
	return fmt.Sprintf("%s.delay.%d", queue, delay.Milliseconds())
}

// DeadLetterQueueName names the queue that keeps rejected jobs.
func DeadLetterQueueName(queue string) string { return queue + ".dead" }

func (p *Publisher) publish(ctx context.Context, queue string, job Job, args amqp.Table) error {
	body, err := Encode(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if !p.declared[queue] {
		if queue == p.queue {
			err = declareJobsQueue(ch, queue)
		} else {
			_, err = ch.QueueDeclare(queue, true, false, false, false, args)
		}
		if err != nil {
			p.reset()
			return errors.Wrapf(err, "declare queue %s", queue)
		}
		p.declared[queue] = true
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(job.Kind),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.reset()
		return errors.Wrapf(err, "publish %s", job.Kind)
	}
	return nil
}

// channel returns the open channel, dialling when needed. p.mu is held.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, errors.Wrap(err, "dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	p.declared = map[string]bool{}
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	logs.Logger.Debug("queue publisher closed")
	return nil
}

// declareJobsQueue declares the durable jobs queue and its dead-letter
// queue. Consumers and the publisher must use identical arguments.
func declareJobsQueue(ch *amqp.Channel, queue string) error {
	dead := DeadLetterQueueName(queue)
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dead,
	})
	return err
}
