package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/metrics"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/tracing"
	"github.com/iliyamo/wallet-pass-engine/internal/utils"
)

// ScanContext describes the scanner making a request. UserID is the
// tenant the scanner link belongs to.
type ScanContext struct {
	UserID        uint64
	ScannerLinkID uint64
	IPAddress     string
	UserAgent     string
}

// ScanOutcome is the result of a redeem or validate call. Success is
// false for every rejected attempt and Result says why.
type ScanOutcome struct {
	Success bool
	Action  model.ScanAction
	Result  model.ScanResult
	Message string
	Pass    *model.Pass
}

// Messages shown to scanners.
const (
	MsgRedeemed         = "Pass redeemed."
	MsgVisitRecorded    = "Visit recorded."
	MsgValid            = "Pass is valid."
	MsgAlreadyRedeemed  = "already redeemed"
	MsgVoided           = "pass voided"
	MsgExpired          = "pass expired"
	MsgInvalidSignature = "invalid signature"
)

// RedemptionEngine validates and redeems passes presented to scanners.
// Single-use redemption re-checks the pass under its row lock, so among
// concurrent attempts exactly one succeeds.
type RedemptionEngine struct {
	store    RedemptionStore
	recorder *ScanEventRecorder
	qrSecret string
	now      func() time.Time
}

// NewRedemptionEngine wires the engine. When qrSecret is not empty every
// request must carry hex(HMAC-SHA256(qrSecret, serial)).
func NewRedemptionEngine(store RedemptionStore, recorder *ScanEventRecorder, qrSecret string) *RedemptionEngine {
	return &RedemptionEngine{store: store, recorder: recorder, qrSecret: qrSecret, now: time.Now}
}

// Redeem redeems a single-use pass or records a visit on a multi-use one.
// Checks run in a fixed order: voided, expired, then the usage type.
// Rejected attempts return an outcome, not an error; errors are reserved
// for unknown serials, bad signatures and storage failures. Every attempt
// on a resolved pass writes exactly one scan event.
func (e *RedemptionEngine) Redeem(ctx context.Context, sc ScanContext, serial, signature string) (*ScanOutcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "RedemptionEngine.Redeem")
	defer span.End()
	span.SetAttributes(attribute.String("pass.serial", serial))

	scope := repository.Scope{UserID: sc.UserID}
	if err := e.verifySignature(ctx, sc, scope, serial, signature); err != nil {
		return nil, err
	}
	p, err := e.store.GetPassBySerial(ctx, scope, serial)
	if err != nil {
		return nil, translate(err, "pass")
	}

	var out *ScanOutcome
	if p.UsageType == model.UsageMulti {
		out = e.check(p, model.ActionVisit)
		if out == nil {
			out = &ScanOutcome{Success: true, Action: model.ActionVisit, Result: model.ResultSuccess, Message: MsgVisitRecorded, Pass: p}
		}
	} else {
		err = e.store.InTx(ctx, func(tx repository.Tx) error {
			locked, err := tx.LockPassBySerial(ctx, scope, serial)
			if err != nil {
				return err
			}
			if out = e.check(locked, model.ActionRedeem); out != nil {
				return nil
			}
			if err := tx.MarkRedeemed(ctx, locked); err != nil {
				return err
			}
			out = &ScanOutcome{Success: true, Action: model.ActionRedeem, Result: model.ResultSuccess, Message: MsgRedeemed, Pass: locked}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return nil, translate(err, "pass")
		}
	}
	e.finish(ctx, sc, out)
	return out, nil
}

// Validate reports whether a pass would be accepted without changing it.
func (e *RedemptionEngine) Validate(ctx context.Context, sc ScanContext, serial, signature string) (*ScanOutcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "RedemptionEngine.Validate")
	defer span.End()

	scope := repository.Scope{UserID: sc.UserID}
	if err := e.verifySignature(ctx, sc, scope, serial, signature); err != nil {
		return nil, err
	}
	p, err := e.store.GetPassBySerial(ctx, scope, serial)
	if err != nil {
		return nil, translate(err, "pass")
	}
	out := e.check(p, model.ActionScan)
	if out == nil {
		out = &ScanOutcome{Success: true, Action: model.ActionScan, Result: model.ResultSuccess, Message: MsgValid, Pass: p}
	}
	e.finish(ctx, sc, out)
	return out, nil
}

// check returns the rejection for a pass in a terminal state, or nil
// when the pass is active.
func (e *RedemptionEngine) check(p *model.Pass, action model.ScanAction) *ScanOutcome {
	reject := func(r model.ScanResult, msg string) *ScanOutcome {
		return &ScanOutcome{Action: action, Result: r, Message: msg, Pass: p}
	}
	switch p.Status(e.now()) {
	case model.PassVoided:
		return reject(model.ResultVoided, MsgVoided)
	case model.PassExpired:
		return reject(model.ResultExpired, MsgExpired)
	case model.PassRedeemed:
		return reject(model.ResultAlreadyRedeemed, MsgAlreadyRedeemed)
	}
	return nil
}

func (e *RedemptionEngine) verifySignature(ctx context.Context, sc ScanContext, scope repository.Scope, serial, signature string) error {
	if e.qrSecret == "" || utils.VerifyHex(e.qrSecret, []byte(serial), signature) {
		return nil
	}
	var passID *uint64
	if p, err := e.store.GetPassBySerial(ctx, scope, serial); err == nil {
		passID = &p.ID
	}
	e.recorder.Record(ctx, ScanEventInput{
		UserID: sc.UserID, PassID: passID, ScannerLinkID: sc.ScannerLinkID,
		Action: model.ActionInvalidSignature, Result: model.ResultInvalidSignature,
		IPAddress: sc.IPAddress, UserAgent: sc.UserAgent,
	})
	metrics.Redemptions.WithLabelValues(string(model.ActionInvalidSignature), string(model.ResultInvalidSignature)).Inc()
	return validationError(MsgInvalidSignature)
}

func (e *RedemptionEngine) finish(ctx context.Context, sc ScanContext, out *ScanOutcome) {
	id := out.Pass.ID
	e.recorder.Record(ctx, ScanEventInput{
		UserID: sc.UserID, PassID: &id, ScannerLinkID: sc.ScannerLinkID,
		Action: out.Action, Result: out.Result,
		IPAddress: sc.IPAddress, UserAgent: sc.UserAgent,
	})
	metrics.Redemptions.WithLabelValues(string(out.Action), string(out.Result)).Inc()
	if !out.Success {
		logs.Logger.WithFields(logrus.Fields{
			"pass_id": id, "action": out.Action, "result": out.Result, "scanner_link_id": sc.ScannerLinkID,
		}).Info("scan rejected")
	}
}
