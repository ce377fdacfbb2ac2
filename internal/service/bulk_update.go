package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/metrics"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/queue"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/tracing"
)

// BulkPageSize is how many passes a bulk run loads per query.
const BulkPageSize = 100

// MsgBulkInFlight is returned when a template already has a running job.
const MsgBulkInFlight = "A bulk update is already in progress for this template."

// BulkUpdateRequest describes one bulk field mutation.
type BulkUpdateRequest struct {
	TemplateID uint64
	FieldKey   string
	FieldValue string
	Filter     model.PassFilter
}

// LaunchLock serialises bulk launches on one template across instances.
type LaunchLock interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// BulkUpdateCoordinator launches and runs bulk updates. At most one job
// per template is pending or processing at any time.
type BulkUpdateCoordinator struct {
	store   BulkUpdateStore
	updates *PassUpdateService
	queue   queue.Enqueuer
	lock    LaunchLock
	now     func() time.Time
}

// NewBulkUpdateCoordinator wires the coordinator. lock may be nil, in
// which case the in-flight check relies on the database row lock alone.
func NewBulkUpdateCoordinator(store BulkUpdateStore, updates *PassUpdateService, q queue.Enqueuer, lock LaunchLock) *BulkUpdateCoordinator {
	return &BulkUpdateCoordinator{store: store, updates: updates, queue: q, lock: lock, now: time.Now}
}

func validateFilter(f model.PassFilter) error {
	switch f.Status {
	case "", model.PassActive, model.PassRedeemed, model.PassVoided, model.PassExpired:
	default:
		return validationError(fmt.Sprintf("unknown status filter %q", f.Status))
	}
	switch f.Platform {
	case "", model.PlatformApple, model.PlatformGoogle:
	default:
		return validationError(fmt.Sprintf("unknown platform filter %q", f.Platform))
	}
	return nil
}

// Start validates the request, creates the pending job with its total
// precomputed and enqueues it.
func (b *BulkUpdateCoordinator) Start(ctx context.Context, scope repository.Scope, req BulkUpdateRequest) (*model.BulkUpdate, error) {
	ctx, span := tracing.Tracer().Start(ctx, "BulkUpdateCoordinator.Start")
	defer span.End()
	span.SetAttributes(attribute.Int64("template.id", int64(req.TemplateID)))

	ok, err := b.store.TemplateExists(ctx, scope, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("template not found")
	}
	if err := ValidateFields(map[string]string{req.FieldKey: req.FieldValue}); err != nil {
		return nil, err
	}
	if err := validateFilter(req.Filter); err != nil {
		return nil, err
	}

	if b.lock != nil {
		release, ok, err := b.lock.Acquire(ctx, fmt.Sprintf("bulk-launch:%d", req.TemplateID), 30*time.Second)
		if err != nil {
			// Redis trouble degrades to the database check below.
			logs.Logger.WithError(err).Warn("bulk launch lock unavailable")
		} else if !ok {
			return nil, conflictError(MsgBulkInFlight)
		} else {
			defer release()
		}
	}

	now := b.now().UTC()
	job := &model.BulkUpdate{
		UserID:     scope.UserID,
		TemplateID: req.TemplateID,
		FieldKey:   req.FieldKey,
		FieldValue: req.FieldValue,
		Filter:     req.Filter,
		Status:     model.BulkPending,
		CreatedAt:  now,
	}
	err = b.store.InTx(ctx, func(tx repository.Tx) error {
		inflight, err := tx.FindInFlightBulkUpdate(ctx, scope, req.TemplateID)
		if err != nil {
			return err
		}
		if inflight != nil {
			return conflictError(MsgBulkInFlight)
		}
		total, err := tx.CountMatchingPasses(ctx, scope, req.TemplateID, req.Filter, now)
		if err != nil {
			return err
		}
		job.TotalCount = total
		return tx.CreateBulkUpdate(ctx, job)
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			logs.Logger.WithField("template_id", req.TemplateID).Info(err.Error())
		}
		return nil, err
	}

	if err := b.queue.Enqueue(ctx, queue.ProcessBulk(job.ID)); err != nil {
		// The job would block the template forever if left pending.
		logs.Logger.WithError(err).WithField("bulk_update_id", job.ID).Error("failed to enqueue bulk update")
		if ferr := b.store.FinishBulkUpdate(context.WithoutCancel(ctx), job.ID, model.BulkCompletedWithErrors, b.now().UTC()); ferr != nil {
			logs.Logger.WithError(ferr).WithField("bulk_update_id", job.ID).Error("failed to close unqueued bulk update")
		}
		return nil, fmt.Errorf("enqueue bulk update: %w", err)
	}
	logs.Logger.WithFields(logrus.Fields{"bulk_update_id": job.ID, "template_id": job.TemplateID, "total": job.TotalCount}).Info("bulk update queued")
	return job, nil
}

// Get returns a progress snapshot of a job owned by scope.
func (b *BulkUpdateCoordinator) Get(ctx context.Context, scope repository.Scope, id uint64) (*model.BulkUpdate, error) {
	job, err := b.store.GetBulkUpdate(ctx, scope, id)
	if err != nil {
		return nil, translate(err, "bulk update")
	}
	return job, nil
}

// Process runs a job. Each matching pass goes through UpdatePassFields,
// so state checks and delivery fan-out apply per pass. A failing pass is
// counted and skipped. A redelivered job that already completed is a
// no-op; one that was interrupted starts over with fresh counters.
func (b *BulkUpdateCoordinator) Process(ctx context.Context, id uint64) error {
	ctx, span := tracing.Tracer().Start(ctx, "BulkUpdateCoordinator.Process")
	defer span.End()
	span.SetAttributes(attribute.Int64("bulk_update.id", int64(id)))

	job, err := b.store.LoadBulkUpdate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		logs.Logger.WithField("bulk_update_id", id).Warn("bulk update no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if !job.Status.InFlight() {
		return nil
	}
	log := logs.Logger.WithFields(logrus.Fields{"bulk_update_id": job.ID, "template_id": job.TemplateID})

	started := b.now().UTC()
	if err := b.store.StartBulkUpdate(ctx, job.ID, started); err != nil {
		return err
	}
	scope := repository.Scope{UserID: job.UserID}
	in := UpdateInput{
		Fields:    map[string]string{job.FieldKey: job.FieldValue},
		Initiator: Initiator{UserID: job.UserID},
		Source:    model.SourceBulk,
	}

	var (
		cursor    uint64
		processed int
		failed    int
	)
	for {
		passes, err := b.store.ListMatchingPasses(ctx, scope, job.TemplateID, job.Filter, started, cursor, BulkPageSize)
		if err != nil {
			log.WithError(err).Error("bulk update aborted while listing passes")
			b.finish(ctx, job.ID, model.BulkCompletedWithErrors, log)
			return err
		}
		for _, p := range passes {
			cursor = p.ID
			_, uerr := b.updates.UpdatePassFields(ctx, p.ID, in)
			if uerr != nil {
				failed++
				metrics.BulkPasses.WithLabelValues("failed").Inc()
				log.WithError(uerr).WithField("pass_id", p.ID).Warn("bulk update skipped pass")
			} else {
				processed++
				metrics.BulkPasses.WithLabelValues("updated").Inc()
			}
			if err := b.store.IncrementBulkProgress(ctx, job.ID, uerr != nil); err != nil {
				log.WithError(err).Error("failed to record bulk progress")
			}
		}
		if len(passes) < BulkPageSize {
			break
		}
	}

	status := model.BulkCompleted
	if failed > 0 {
		status = model.BulkCompletedWithErrors
	}
	b.finish(ctx, job.ID, status, log)
	log.WithFields(logrus.Fields{"processed": processed, "failed": failed, "status": status}).Info("bulk update finished")
	return nil
}

func (b *BulkUpdateCoordinator) finish(ctx context.Context, id uint64, status model.BulkStatus, log *logrus.Entry) {
	if err := b.store.FinishBulkUpdate(context.WithoutCancel(ctx), id, status, b.now().UTC()); err != nil {
		log.WithError(err).Error("failed to finish bulk update")
	}
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLaunchLock is a LaunchLock on a single Redis key per template.
type RedisLaunchLock struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLaunchLock returns nil when rdb is nil so callers can pass the
// result straight to NewBulkUpdateCoordinator.
func NewRedisLaunchLock(rdb *redis.Client, prefix string) LaunchLock {
	if rdb == nil {
		return nil
	}
	return &RedisLaunchLock{rdb: rdb, prefix: prefix}
}

func (l *RedisLaunchLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	full := l.prefix + ":" + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		if err := releaseScript.Run(context.Background(), l.rdb, []string{full}, token).Err(); err != nil {
			logs.Logger.WithError(err).WithField("key", full).Warn("failed to release launch lock")
		}
	}
	return release, true, nil
}
