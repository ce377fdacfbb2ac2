package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/delivery"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/queue"
	"github.com/iliyamo/wallet-pass-engine/internal/repository/memstore"
)

var backoff = []time.Duration{30 * time.Second, 2 * time.Minute}

// seedUpdate applies one field change so a pending PassUpdate exists.
func seedUpdate(t *testing.T, store *memstore.Store, p *model.Pass) *model.PassUpdate {
	t.Helper()
	svc := NewPassUpdateService(store, &recordingQueue{}, true)
	u, err := svc.UpdatePassFields(context.Background(), p.ID, ownerInput(map[string]string{"seat": "9Z"}))
	if err != nil {
		t.Fatalf("seed update: %v", err)
	}
	return u
}

func lastUpdate(t *testing.T, store *memstore.Store, p *model.Pass) *model.PassUpdate {
	t.Helper()
	rows := store.PassUpdates(p.ID)
	if len(rows) == 0 {
		t.Fatal("no pass updates")
	}
	return rows[len(rows)-1]
}

func TestDeliver_Apple(t *testing.T) {
	ctx := context.Background()

	t.Run("Given two devices When delivered Then both are pushed and the channel is sent", func(t *testing.T) {
		store := newStore(t)
		p := addPass(store, func(p *model.Pass) { p.Platforms = []model.Platform{model.PlatformApple} })
		store.AddRegistration("dev-1", p.PassTypeID, p.SerialNumber, "push-1")
		store.AddRegistration("dev-2", p.PassTypeID, p.SerialNumber, "push-2")
		u := seedUpdate(t, store, p)
		pusher := &fakePusher{}
		d := NewDeliveryDispatcher(store, pusher, nil, &recordingQueue{}, DeliveryOptions{RetryBackoff: backoff})

		if err := d.Deliver(ctx, queue.DeliverUpdate(u.ID)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		got := lastUpdate(t, store, p)
		if got.AppleDeliveryStatus != model.DeliverySent || got.AppleDevicesNotified != 2 {
			t.Errorf("apple = %s/%d", got.AppleDeliveryStatus, got.AppleDevicesNotified)
		}
		if got.GoogleDeliveryStatus != model.DeliverySkipped {
			t.Errorf("google = %s, want skipped", got.GoogleDeliveryStatus)
		}

		// Redelivery of the same job must not push again.
		if err := d.Deliver(ctx, queue.DeliverUpdate(u.ID)); err != nil {
			t.Fatalf("redeliver: %v", err)
		}
		if pusher.Calls() != 2 {
			t.Errorf("pushes = %d, want 2", pusher.Calls())
		}
	})

	t.Run("Given an unregistered token When delivered Then the registration is deactivated and the rest still count", func(t *testing.T) {
		store := newStore(t)
		p := addPass(store, func(p *model.Pass) { p.Platforms = []model.Platform{model.PlatformApple} })
		store.AddRegistration("dev-1", p.PassTypeID, p.SerialNumber, "push-ok")
		store.AddRegistration("dev-2", p.PassTypeID, p.SerialNumber, "push-gone")
		u := seedUpdate(t, store, p)
		pusher := &fakePusher{errs: map[string]error{"push-gone": delivery.ErrTokenInvalid}}
		d := NewDeliveryDispatcher(store, pusher, nil, &recordingQueue{}, DeliveryOptions{RetryBackoff: backoff})

		if err := d.Deliver(ctx, queue.DeliverUpdate(u.ID)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		got := lastUpdate(t, store, p)
		if got.AppleDeliveryStatus != model.DeliverySent || got.AppleDevicesNotified != 1 {
			t.Errorf("apple = %s/%d", got.AppleDeliveryStatus, got.AppleDevicesNotified)
		}
		for _, r := range store.Registrations() {
			if r.PushToken == "push-gone" && r.IsActive {
				t.Errorf("invalid token still active")
			}
		}
	})

	t.Run("Given every push fails transiently on the last attempt When delivered Then the channel fails", func(t *testing.T) {
		store := newStore(t)
		p := addPass(store, func(p *model.Pass) { p.Platforms = []model.Platform{model.PlatformApple} })
		store.AddRegistration("dev-1", p.PassTypeID, p.SerialNumber, "push-1")
		u := seedUpdate(t, store, p)
		pusher := &fakePusher{errs: map[string]error{"push-1": errBoom}}
		q := &recordingQueue{}
		d := NewDeliveryDispatcher(store, pusher, nil, q, DeliveryOptions{RetryBackoff: backoff})

		job := queue.DeliverUpdate(u.ID)
		job.Attempt = len(backoff)
		if err := d.Deliver(ctx, job); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		got := lastUpdate(t, store, p)
		if got.AppleDeliveryStatus != model.DeliveryFailed {
			t.Errorf("apple = %s, want failed", got.AppleDeliveryStatus)
		}
		if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, "apple:") {
			t.Errorf("error message = %v", got.ErrorMessage)
		}
		if len(q.Delayed()) != 0 {
			t.Errorf("retry scheduled after the last attempt")
		}
	})
}

func TestDeliver_NegativeAttempt(t *testing.T) {
	store := newStore(t)
	p := addPass(store, func(p *model.Pass) { p.Platforms = []model.Platform{model.PlatformApple} })
	store.AddRegistration("dev-1", p.PassTypeID, p.SerialNumber, "push-1")
	u := seedUpdate(t, store, p)
	q := &recordingQueue{}
	d := NewDeliveryDispatcher(store, &fakePusher{errs: map[string]error{"push-1": errBoom}}, nil, q, DeliveryOptions{RetryBackoff: backoff})

	job := queue.DeliverUpdate(u.ID)
	job.Attempt = -3
	if err := d.Deliver(context.Background(), job); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	delayed := q.Delayed()
	if len(delayed) != 1 || delayed[0].delay != backoff[0] || delayed[0].job.Attempt != 1 {
		t.Errorf("retry = %+v, want first backoff step", delayed)
	}
}

func TestDeliver_ChannelIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("Given google fails transiently When delivered Then apple is sent and only google is retried", func(t *testing.T) {
		store := newStore(t)
		p := addPass(store, nil)
		store.AddRegistration("dev-1", p.PassTypeID, p.SerialNumber, "push-1")
		u := seedUpdate(t, store, p)
		google := &fakeGoogle{err: errBoom}
		q := &recordingQueue{}
		d := NewDeliveryDispatcher(store, &fakePusher{}, google, q, DeliveryOptions{RetryBackoff: backoff})

		if err := d.Deliver(ctx, queue.DeliverUpdate(u.ID)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		got := lastUpdate(t, store, p)
		if got.AppleDeliveryStatus != model.DeliverySent {
			t.Errorf("apple = %s, want sent", got.AppleDeliveryStatus)
		}
		if got.GoogleDeliveryStatus != model.DeliveryPending {
			t.Errorf("google = %s, want pending while retrying", got.GoogleDeliveryStatus)
		}
		delayed := q.Delayed()
		if len(delayed) != 1 {
			t.Fatalf("delayed jobs = %d, want 1", len(delayed))
		}
		next := delayed[0]
		if next.delay != backoff[0] || next.job.Attempt != 1 || len(next.job.Channels) != 1 || next.job.Channels[0] != model.PlatformGoogle {
			t.Errorf("retry = %+v", next)
		}

		// The retry succeeds and only touches google.
		google.err = nil
		if err := d.Deliver(ctx, next.job); err != nil {
			t.Fatalf("retry Deliver: %v", err)
		}
		got = lastUpdate(t, store, p)
		if got.GoogleDeliveryStatus != model.DeliverySent || !got.GoogleUpdated {
			t.Errorf("google = %s updated=%v", got.GoogleDeliveryStatus, got.GoogleUpdated)
		}
		if got.AppleDevicesNotified != 1 {
			t.Errorf("apple pushed again")
		}
	})

	t.Run("Given a permanent google error When delivered Then google fails without retry", func(t *testing.T) {
		store := newStore(t)
		p := addPass(store, func(p *model.Pass) { p.Platforms = []model.Platform{model.PlatformGoogle} })
		u := seedUpdate(t, store, p)
		q := &recordingQueue{}
		d := NewDeliveryDispatcher(store, nil, &fakeGoogle{err: delivery.Permanent(errBoom)}, q, DeliveryOptions{RetryBackoff: backoff})

		if err := d.Deliver(ctx, queue.DeliverUpdate(u.ID)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		got := lastUpdate(t, store, p)
		if got.GoogleDeliveryStatus != model.DeliveryFailed || got.GoogleUpdated {
			t.Errorf("google = %s updated=%v", got.GoogleDeliveryStatus, got.GoogleUpdated)
		}
		if got.ErrorMessage == nil || !strings.HasPrefix(*got.ErrorMessage, "google:") {
			t.Errorf("error message = %v", got.ErrorMessage)
		}
		if len(q.Delayed()) != 0 {
			t.Errorf("permanent error was retried")
		}
	})

	t.Run("Given the retry cannot be scheduled When delivered Then the channel is failed", func(t *testing.T) {
		store := newStore(t)
		p := addPass(store, func(p *model.Pass) { p.Platforms = []model.Platform{model.PlatformGoogle} })
		u := seedUpdate(t, store, p)
		d := NewDeliveryDispatcher(store, nil, &fakeGoogle{err: errBoom}, &recordingQueue{err: errBoom}, DeliveryOptions{RetryBackoff: backoff})

		if err := d.Deliver(ctx, queue.DeliverUpdate(u.ID)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
		if got := lastUpdate(t, store, p); got.GoogleDeliveryStatus != model.DeliveryFailed {
			t.Errorf("google = %s, want failed", got.GoogleDeliveryStatus)
		}
	})

	t.Run("Given a deleted update When delivered Then the job is dropped", func(t *testing.T) {
		store := newStore(t)
		d := NewDeliveryDispatcher(store, nil, nil, &recordingQueue{}, DeliveryOptions{})
		if err := d.Deliver(ctx, queue.DeliverUpdate(12345)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	})
}
