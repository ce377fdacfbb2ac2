package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/wallet-pass-engine/internal/delivery"
	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/metrics"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/queue"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/tracing"
)

// ApplePusher sends one silent push to a wallet device.
type ApplePusher interface {
	Push(ctx context.Context, pushToken, topic string) error
}

// GoogleWallet updates the Google object mirroring a pass.
type GoogleWallet interface {
	UpdateObject(ctx context.Context, p *model.Pass) error
}

// DeliveryOptions tune the dispatcher.
type DeliveryOptions struct {
	Timeout         time.Duration   // per external call
	RetryBackoff    []time.Duration // delay before each retry; len is the retry count
	PushConcurrency int
}

// DeliveryDispatcher fans a PassUpdate out to the wallets the pass is
// enrolled in. Channels are independent: each records its own outcome
// and a failure on one never blocks or undoes the other.
type DeliveryDispatcher struct {
	store  DeliveryStore
	apple  ApplePusher
	google GoogleWallet
	queue  queue.Enqueuer
	opts   DeliveryOptions
}

// NewDeliveryDispatcher wires the dispatcher. apple and google may be nil
// when the platform is not configured.
func NewDeliveryDispatcher(store DeliveryStore, apple ApplePusher, google GoogleWallet, q queue.Enqueuer, opts DeliveryOptions) *DeliveryDispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PushConcurrency < 1 {
		opts.PushConcurrency = 10
	}
	return &DeliveryDispatcher{store: store, apple: apple, google: google, queue: q, opts: opts}
}

// Deliver runs one delivery attempt for the job's channels. Queue delivery
// is at least once, so channels whose status already left pending are
// skipped. Channel failures are recorded on the update, not returned.
func (d *DeliveryDispatcher) Deliver(ctx context.Context, job queue.Job) error {
	if job.Attempt < 0 {
		job.Attempt = 0
	}
	ctx, span := tracing.Tracer().Start(ctx, "DeliveryDispatcher.Deliver")
	defer span.End()
	span.SetAttributes(attribute.Int64("pass_update.id", int64(job.PassUpdateID)), attribute.Int("attempt", job.Attempt))

	u, err := d.store.GetPassUpdate(ctx, job.PassUpdateID)
	if errors.Is(err, repository.ErrNotFound) {
		logs.Logger.WithField("pass_update_id", job.PassUpdateID).Warn("delivery: update no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	p, err := d.store.GetPass(ctx, repository.Scope{UserID: u.UserID}, u.PassID)
	if errors.Is(err, repository.ErrNotFound) {
		logs.Logger.WithField("pass_update_id", u.ID).Warn("delivery: pass no longer exists")
		return nil
	}
	if err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		retry []model.Platform
	)
	var g errgroup.Group
	if wants(job, model.PlatformApple) && u.AppleDeliveryStatus == model.DeliveryPending {
		g.Go(func() error {
			if d.deliverApple(ctx, u, p, job.Attempt) {
				mu.Lock()
				retry = append(retry, model.PlatformApple)
				mu.Unlock()
			}
			return nil
		})
	}
	if wants(job, model.PlatformGoogle) && u.GoogleDeliveryStatus == model.DeliveryPending {
		g.Go(func() error {
			if d.deliverGoogle(ctx, u, p, job.Attempt) {
				mu.Lock()
				retry = append(retry, model.PlatformGoogle)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(retry) == 0 {
		return nil
	}
	next := queue.Job{Kind: queue.KindDeliverUpdate, PassUpdateID: u.ID, Channels: retry, Attempt: job.Attempt + 1}
	delay := d.opts.RetryBackoff[job.Attempt]
	if err := d.queue.EnqueueAfter(ctx, next, delay); err != nil {
		// Without a scheduled retry the channel would stay pending forever.
		logs.Logger.WithError(err).WithField("pass_update_id", u.ID).Error("delivery: failed to schedule retry")
		msg := "retry not scheduled: " + err.Error()
		for _, ch := range retry {
			d.finish(ctx, u.ID, ch, model.DeliveryFailed, 0, string(ch)+": "+msg)
		}
	}
	return nil
}

func wants(job queue.Job, pl model.Platform) bool {
	if len(job.Channels) == 0 {
		return true
	}
	for _, c := range job.Channels {
		if c == pl {
			return true
		}
	}
	return false
}

// canRetry reports whether another attempt is allowed after attempt.
func (d *DeliveryDispatcher) canRetry(attempt int) bool {
	return attempt >= 0 && attempt < len(d.opts.RetryBackoff)
}

// deliverApple pushes to every active registration and reports whether
// the channel should be retried.
func (d *DeliveryDispatcher) deliverApple(ctx context.Context, u *model.PassUpdate, p *model.Pass, attempt int) bool {
	ctx, span := tracing.Tracer().Start(ctx, "DeliveryDispatcher.apple")
	defer span.End()
	log := logs.Logger.WithFields(logrus.Fields{"pass_update_id": u.ID, "channel": "apple", "attempt": attempt})

	regs, err := d.store.ListActiveRegistrations(ctx, p.PassTypeID, p.SerialNumber)
	if err != nil {
		span.RecordError(err)
		return d.failOrRetry(ctx, u.ID, model.PlatformApple, attempt, err, log)
	}
	if len(regs) == 0 {
		d.finish(ctx, u.ID, model.PlatformApple, model.DeliverySkipped, 0, "")
		return false
	}
	if d.apple == nil {
		d.finish(ctx, u.ID, model.PlatformApple, model.DeliveryFailed, 0, "apple: push client not configured")
		return false
	}
	span.SetAttributes(attribute.Int("devices", len(regs)))

	var (
		sent      atomic.Int32
		mu        sync.Mutex
		errs      []string
		retryable bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.PushConcurrency)
	for _, reg := range regs {
		reg := reg
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, d.opts.Timeout)
			defer cancel()
			err := d.apple.Push(pctx, reg.PushToken, p.PassTypeID)
			if err == nil {
				sent.Add(1)
				metrics.ApplePushes.WithLabelValues("sent").Inc()
				return nil
			}
			if errors.Is(err, delivery.ErrTokenInvalid) {
				metrics.ApplePushes.WithLabelValues("invalid_token").Inc()
				if derr := d.store.DeactivatePushToken(ctx, reg.PushToken); derr != nil {
					log.WithError(derr).Error("failed to deactivate push token")
				}
			} else {
				metrics.ApplePushes.WithLabelValues("error").Inc()
			}
			mu.Lock()
			errs = append(errs, fmt.Sprintf("device %s: %v", reg.DeviceLibraryID, err))
			if !delivery.IsPermanent(err) {
				retryable = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	n := int(sent.Load())
	if n > 0 {
		msg := ""
		if len(errs) > 0 {
			msg = fmt.Sprintf("apple: %d of %d pushes failed: %s", len(errs), len(regs), strings.Join(errs, "; "))
		}
		d.finish(ctx, u.ID, model.PlatformApple, model.DeliverySent, n, msg)
		return false
	}
	err = errors.New(strings.Join(errs, "; "))
	span.RecordError(err)
	span.SetStatus(codes.Error, "all pushes failed")
	if !retryable {
		d.finish(ctx, u.ID, model.PlatformApple, model.DeliveryFailed, 0, "apple: "+err.Error())
		return false
	}
	return d.failOrRetry(ctx, u.ID, model.PlatformApple, attempt, err, log)
}

// deliverGoogle patches the Google object once and reports whether the
// channel should be retried.
func (d *DeliveryDispatcher) deliverGoogle(ctx context.Context, u *model.PassUpdate, p *model.Pass, attempt int) bool {
	ctx, span := tracing.Tracer().Start(ctx, "DeliveryDispatcher.google")
	defer span.End()
	log := logs.Logger.WithFields(logrus.Fields{"pass_update_id": u.ID, "channel": "google", "attempt": attempt})

	if d.google == nil {
		d.finish(ctx, u.ID, model.PlatformGoogle, model.DeliverySkipped, 0, "")
		return false
	}
	gctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	err := d.google.UpdateObject(gctx, p)
	cancel()
	if err == nil {
		d.finish(ctx, u.ID, model.PlatformGoogle, model.DeliverySent, 0, "")
		return false
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if delivery.IsPermanent(err) {
		d.finish(ctx, u.ID, model.PlatformGoogle, model.DeliveryFailed, 0, "google: "+err.Error())
		return false
	}
	return d.failOrRetry(ctx, u.ID, model.PlatformGoogle, attempt, err, log)
}

// failOrRetry marks the channel failed once retries are exhausted.
func (d *DeliveryDispatcher) failOrRetry(ctx context.Context, id uint64, ch model.Platform, attempt int, err error, log *logrus.Entry) bool {
	if d.canRetry(attempt) {
		log.WithError(err).Warnf("delivery attempt failed; retrying in %s", d.opts.RetryBackoff[attempt])
		return true
	}
	d.finish(ctx, id, ch, model.DeliveryFailed, 0, fmt.Sprintf("%s: %v (after %d attempts)", ch, err, attempt+1))
	return false
}

// finish stores a terminal channel status. The store call uses a context
// detached from cancellation so a finished push is always recorded.
func (d *DeliveryDispatcher) finish(ctx context.Context, id uint64, ch model.Platform, status model.DeliveryStatus, notified int, msg string) {
	ctx = context.WithoutCancel(ctx)
	var errMsg *string
	if msg != "" {
		errMsg = &msg
	}
	var err error
	switch ch {
	case model.PlatformApple:
		err = d.store.SetAppleDelivery(ctx, id, status, notified, errMsg)
	case model.PlatformGoogle:
		err = d.store.SetGoogleDelivery(ctx, id, status, status == model.DeliverySent, errMsg)
	}
	metrics.Deliveries.WithLabelValues(string(ch), string(status)).Inc()
	if err != nil {
		logs.Logger.WithError(err).WithFields(logrus.Fields{"pass_update_id": id, "channel": ch}).Error("failed to record delivery status")
	}
}
