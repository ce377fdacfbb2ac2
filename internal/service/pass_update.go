package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/metrics"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/queue"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/tracing"
)

// MaxFieldsBytes bounds the JSON encoding of one update's fields.
const MaxFieldsBytes = 10240

// HistoryPerPage is the page size of the update history.
const HistoryPerPage = 15

// Messages returned for updates on terminal passes.
const (
	MsgVoidedImmutable   = "Voided passes cannot be updated."
	MsgRedeemedImmutable = "Redeemed passes cannot be updated."
)

// Initiator identifies who asked for an update. ServiceVerified is set
// when the request carried a valid device-service signature instead of an
// owner session.
type Initiator struct {
	UserID          uint64
	ServiceVerified bool
}

// UpdateInput is one field mutation request.
type UpdateInput struct {
	Fields         map[string]string
	ChangeMessages []string
	Initiator      Initiator
	Source         model.UpdateSource
}

// PassUpdateService applies field mutations to passes and schedules their
// delivery to wallets.
type PassUpdateService struct {
	store         PassUpdateStore
	queue         queue.Enqueuer
	googleEnabled bool
	now           func() time.Time
}

// NewPassUpdateService wires the service. googleEnabled reports whether a
// Google Wallet client is configured; without one the Google channel of
// every update starts as skipped.
func NewPassUpdateService(store PassUpdateStore, q queue.Enqueuer, googleEnabled bool) *PassUpdateService {
	return &PassUpdateService{store: store, queue: q, googleEnabled: googleEnabled, now: time.Now}
}

// ValidateFields checks the shape and encoded size of an update payload.
func ValidateFields(fields map[string]string) error {
	if len(fields) == 0 {
		return validationError("fields must not be empty")
	}
	for k := range fields {
		if strings.TrimSpace(k) == "" {
			return validationError("field keys must not be blank")
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return validationError("fields are not serialisable")
	}
	if len(raw) > MaxFieldsBytes {
		return validationError(fmt.Sprintf("fields payload is %d bytes, the limit is %d", len(raw), MaxFieldsBytes))
	}
	return nil
}

// UpdatePassFields merges in.Fields into the pass data and records one
// PassUpdate. Checks run in a fixed order: authorization, pass state,
// payload validation. The pass row stays locked for the write so a
// concurrent redemption cannot interleave with it.
func (s *PassUpdateService) UpdatePassFields(ctx context.Context, passID uint64, in UpdateInput) (*model.PassUpdate, error) {
	ctx, span := tracing.Tracer().Start(ctx, "PassUpdateService.UpdatePassFields")
	defer span.End()
	span.SetAttributes(attribute.Int64("pass.id", int64(passID)), attribute.String("update.source", string(in.Source)))

	owner, err := s.store.PassOwner(ctx, passID)
	if err != nil {
		return nil, translate(err, "pass")
	}
	if !in.Initiator.ServiceVerified && in.Initiator.UserID != owner {
		return nil, forbiddenError("forbidden")
	}
	scope := repository.Scope{UserID: owner}

	var update *model.PassUpdate
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPass(ctx, scope, passID)
		if err != nil {
			return translate(err, "pass")
		}
		switch {
		case p.VoidedAt != nil:
			return conflictError(MsgVoidedImmutable)
		case p.RedeemedAt != nil:
			return conflictError(MsgRedeemedImmutable)
		}
		if err := ValidateFields(in.Fields); err != nil {
			return err
		}

		changes := make(map[string]model.FieldChange, len(in.Fields))
		if p.Data == nil {
			p.Data = map[string]string{}
		}
		for k, v := range in.Fields {
			var old *string
			if prev, ok := p.Data[k]; ok {
				old = &prev
			}
			changes[k] = model.FieldChange{Old: old, New: v}
			p.Data[k] = v
		}
		if err := tx.SavePassData(ctx, p); err != nil {
			return err
		}

		apple := model.DeliverySkipped
		if p.HasPlatform(model.PlatformApple) {
			n, err := tx.CountActiveRegistrations(ctx, p.PassTypeID, p.SerialNumber)
			if err != nil {
				return err
			}
			if n > 0 {
				apple = model.DeliveryPending
			}
		}
		google := model.DeliverySkipped
		if p.HasPlatform(model.PlatformGoogle) && s.googleEnabled {
			google = model.DeliveryPending
		}

		var initiatedBy *uint64
		if in.Initiator.UserID != 0 {
			id := in.Initiator.UserID
			initiatedBy = &id
		}
		source := in.Source
		if source == "" {
			source = model.SourceAPI
		}
		update = &model.PassUpdate{
			PassID:               p.ID,
			UserID:               p.UserID,
			InitiatedBy:          initiatedBy,
			Source:               source,
			FieldsChanged:        changes,
			ChangeMessages:       in.ChangeMessages,
			AppleDeliveryStatus:  apple,
			GoogleDeliveryStatus: google,
			CreatedAt:            s.now().UTC(),
		}
		return tx.CreatePassUpdate(ctx, update)
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			logs.Logger.WithFields(logrus.Fields{"pass_id": passID, "source": in.Source}).Info(err.Error())
		}
		span.RecordError(err)
		return nil, err
	}
	metrics.PassUpdates.WithLabelValues(string(update.Source)).Inc()

	if update.AppleDeliveryStatus == model.DeliveryPending || update.GoogleDeliveryStatus == model.DeliveryPending {
		if err := s.queue.Enqueue(ctx, queue.DeliverUpdate(update.ID)); err != nil {
			msg := "enqueue delivery: " + err.Error()
			logs.Logger.WithError(err).WithField("pass_update_id", update.ID).Error("failed to enqueue delivery")
			if err := s.store.AppendPassUpdateError(ctx, update.ID, msg); err != nil {
				logs.Logger.WithError(err).WithField("pass_update_id", update.ID).Error("failed to record enqueue error")
			}
			update.ErrorMessage = &msg
		}
	}
	return update, nil
}

// UpdateBySerial is the device-service entry point. The caller has
// already verified the request signature, so the pass owner becomes the
// effective tenant.
func (s *PassUpdateService) UpdateBySerial(ctx context.Context, serial string, in UpdateInput) (*model.PassUpdate, error) {
	p, err := s.store.FindPassBySerial(ctx, serial)
	if err != nil {
		return nil, translate(err, "pass")
	}
	in.Initiator.ServiceVerified = true
	if in.Source == "" {
		in.Source = model.SourceDeviceService
	}
	return s.UpdatePassFields(ctx, p.ID, in)
}

// History returns one page of a pass's updates, newest first. Only the
// owner may read it.
func (s *PassUpdateService) History(ctx context.Context, scope repository.Scope, passID uint64, page int) (Page[*model.PassUpdate], error) {
	if _, err := s.store.GetPass(ctx, scope, passID); err != nil {
		return Page[*model.PassUpdate]{}, translate(err, "pass")
	}
	if page < 1 {
		page = 1
	}
	rows, total, err := s.store.ListPassUpdates(ctx, scope, passID, HistoryPerPage, (page-1)*HistoryPerPage)
	if err != nil {
		return Page[*model.PassUpdate]{}, err
	}
	return newPage(rows, page, HistoryPerPage, total), nil
}
