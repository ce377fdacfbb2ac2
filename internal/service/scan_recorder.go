package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/metrics"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
)

// ScanEventsPerPage is the page size of the scan audit listing.
const ScanEventsPerPage = 15

// ScanEventInput is one scanner attempt to append to the audit log.
type ScanEventInput struct {
	UserID        uint64
	PassID        *uint64
	ScannerLinkID uint64
	Action        model.ScanAction
	Result        model.ScanResult
	IPAddress     string
	UserAgent     string
}

// ScanEventRecorder appends to the scan audit log.
type ScanEventRecorder struct {
	store ScanEventStore
	now   func() time.Time
}

func NewScanEventRecorder(store ScanEventStore) *ScanEventRecorder {
	return &ScanEventRecorder{store: store, now: time.Now}
}

// Record persists one event. A failed write is logged and counted but
// never fails the scan that produced it.
func (r *ScanEventRecorder) Record(ctx context.Context, in ScanEventInput) {
	e := &model.ScanEvent{
		UserID:        in.UserID,
		PassID:        in.PassID,
		ScannerLinkID: in.ScannerLinkID,
		Action:        in.Action,
		Result:        in.Result,
		IPAddress:     in.IPAddress,
		UserAgent:     in.UserAgent,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.store.CreateScanEvent(context.WithoutCancel(ctx), e); err != nil {
		metrics.ScanEventWriteFailures.Inc()
		logs.Logger.WithError(err).WithFields(logrus.Fields{
			"user_id": in.UserID, "pass_id": in.PassID, "action": in.Action, "result": in.Result,
		}).Error("failed to record scan event")
	}
}

// List returns one page of a pass's scan events, newest first.
func (r *ScanEventRecorder) List(ctx context.Context, scope repository.Scope, passID uint64, page int) (Page[*model.ScanEvent], error) {
	if _, err := r.store.GetPass(ctx, scope, passID); err != nil {
		return Page[*model.ScanEvent]{}, translate(err, "pass")
	}
	if page < 1 {
		page = 1
	}
	rows, total, err := r.store.ListScanEvents(ctx, scope, passID, ScanEventsPerPage, (page-1)*ScanEventsPerPage)
	if err != nil {
		return Page[*model.ScanEvent]{}, err
	}
	return newPage(rows, page, ScanEventsPerPage, total), nil
}
