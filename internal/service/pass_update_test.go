package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/queue"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
)

func ownerInput(fields map[string]string) UpdateInput {
	return UpdateInput{Fields: fields, Initiator: Initiator{UserID: owner}, Source: model.SourceAPI}
}

func TestUpdatePassFields_TerminalStates(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a voided pass When fields are updated Then conflict and data is unchanged", func(t *testing.T) {
		store := newStore(t)
		q := &recordingQueue{}
		svc := NewPassUpdateService(store, q, true)
		p := addPass(store, func(p *model.Pass) { p.VoidedAt = ptrTime(time.Now().Add(-time.Hour)) })

		_, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(map[string]string{"seat": "9Z"}))
		assertKind(t, err, KindConflict)
		if err.Error() != MsgVoidedImmutable {
			t.Errorf("message = %q, want %q", err.Error(), MsgVoidedImmutable)
		}
		if got := store.Pass(p.ID).Data["seat"]; got != "1A" {
			t.Errorf("seat = %q, want unchanged 1A", got)
		}
		if n := len(store.PassUpdates(p.ID)); n != 0 {
			t.Errorf("pass updates = %d, want 0", n)
		}
		if len(q.Jobs()) != 0 {
			t.Errorf("unexpected jobs enqueued")
		}
	})

	t.Run("Given a voided pass When an oversized payload is sent Then the state conflict wins", func(t *testing.T) {
		store := newStore(t)
		svc := NewPassUpdateService(store, &recordingQueue{}, true)
		p := addPass(store, func(p *model.Pass) { p.VoidedAt = ptrTime(time.Now()) })

		_, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(map[string]string{"k": strings.Repeat("x", MaxFieldsBytes)}))
		assertKind(t, err, KindConflict)
	})

	t.Run("Given a redeemed pass When fields are updated Then conflict", func(t *testing.T) {
		store := newStore(t)
		svc := NewPassUpdateService(store, &recordingQueue{}, true)
		p := addPass(store, func(p *model.Pass) { p.RedeemedAt = ptrTime(time.Now()) })

		_, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(map[string]string{"seat": "9Z"}))
		assertKind(t, err, KindConflict)
		if err.Error() != MsgRedeemedImmutable {
			t.Errorf("message = %q", err.Error())
		}
		if got := store.Pass(p.ID).Data["seat"]; got != "1A" {
			t.Errorf("seat = %q, want unchanged", got)
		}
	})
}

func TestUpdatePassFields_Authorization(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewPassUpdateService(store, &recordingQueue{}, false)
	p := addPass(store, nil)

	t.Run("Given another tenant When it updates the pass Then forbidden", func(t *testing.T) {
		in := ownerInput(map[string]string{"seat": "2B"})
		in.Initiator.UserID = tenant
		_, err := svc.UpdatePassFields(ctx, p.ID, in)
		assertKind(t, err, KindForbidden)
	})

	t.Run("Given an unknown pass When updated Then not found", func(t *testing.T) {
		_, err := svc.UpdatePassFields(ctx, 9999, ownerInput(map[string]string{"seat": "2B"}))
		assertKind(t, err, KindNotFound)
	})

	t.Run("Given a service-verified caller When it updates by serial Then the owner's pass changes", func(t *testing.T) {
		u, err := svc.UpdateBySerial(ctx, p.SerialNumber, UpdateInput{Fields: map[string]string{"seat": "3C"}})
		if err != nil {
			t.Fatalf("UpdateBySerial: %v", err)
		}
		if u.Source != model.SourceDeviceService || u.InitiatedBy != nil {
			t.Errorf("unexpected update %+v", u)
		}
		if got := store.Pass(p.ID).Data["seat"]; got != "3C" {
			t.Errorf("seat = %q, want 3C", got)
		}
	})

	t.Run("Given an unknown serial When updated by the device service Then not found", func(t *testing.T) {
		_, err := svc.UpdateBySerial(ctx, "missing", UpdateInput{Fields: map[string]string{"a": "b"}})
		assertKind(t, err, KindNotFound)
	})
}

func TestUpdatePassFields_PayloadSize(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewPassUpdateService(store, &recordingQueue{}, false)
	p := addPass(store, nil)

	// {"k":"..."} encodes to 8 bytes plus the value.
	t.Run("Given a payload of exactly the limit When updated Then accepted", func(t *testing.T) {
		fields := map[string]string{"k": strings.Repeat("a", MaxFieldsBytes-8)}
		if _, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(fields)); err != nil {
			t.Fatalf("UpdatePassFields: %v", err)
		}
	})

	t.Run("Given a payload one byte over When updated Then validation error", func(t *testing.T) {
		fields := map[string]string{"k": strings.Repeat("a", MaxFieldsBytes-7)}
		_, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(fields))
		assertKind(t, err, KindValidation)
	})

	t.Run("Given empty fields When updated Then validation error", func(t *testing.T) {
		_, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(map[string]string{}))
		assertKind(t, err, KindValidation)
	})
}

func TestUpdatePassFields_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("Given an active pass When fields are merged Then old values are recorded and other keys kept", func(t *testing.T) {
		store := newStore(t)
		q := &recordingQueue{}
		svc := NewPassUpdateService(store, q, true)
		p := addPass(store, func(p *model.Pass) {
			p.Data = map[string]string{"seat": "1A", "gate": "B"}
			path := "passes/old.pkpass"
			p.PkpassPath = &path
		})
		store.AddRegistration("dev-1", p.PassTypeID, p.SerialNumber, "push-1")

		u, err := svc.UpdatePassFields(ctx, p.ID, UpdateInput{
			Fields:         map[string]string{"seat": "2B", "row": "7"},
			ChangeMessages: []string{"Seat changed"},
			Initiator:      Initiator{UserID: owner},
		})
		if err != nil {
			t.Fatalf("UpdatePassFields: %v", err)
		}
		stored := store.Pass(p.ID)
		if stored.Data["seat"] != "2B" || stored.Data["row"] != "7" || stored.Data["gate"] != "B" {
			t.Errorf("data = %v", stored.Data)
		}
		if stored.PkpassPath != nil {
			t.Errorf("pkpass path not cleared")
		}
		seat := u.FieldsChanged["seat"]
		if seat.Old == nil || *seat.Old != "1A" || seat.New != "2B" {
			t.Errorf("seat change = %+v", seat)
		}
		if u.FieldsChanged["row"].Old != nil {
			t.Errorf("row change should have no old value")
		}
		if u.AppleDeliveryStatus != model.DeliveryPending || u.GoogleDeliveryStatus != model.DeliveryPending {
			t.Errorf("statuses = %s/%s, want pending/pending", u.AppleDeliveryStatus, u.GoogleDeliveryStatus)
		}
		if u.Source != model.SourceAPI || u.InitiatedBy == nil || *u.InitiatedBy != owner {
			t.Errorf("unexpected source/initiator %+v", u)
		}
		jobs := q.Jobs()
		if len(jobs) != 1 || jobs[0].Kind != queue.KindDeliverUpdate || jobs[0].PassUpdateID != u.ID {
			t.Errorf("jobs = %+v", jobs)
		}
	})

	t.Run("Given no registrations and no google client When updated Then both channels skip and nothing is enqueued", func(t *testing.T) {
		store := newStore(t)
		q := &recordingQueue{}
		svc := NewPassUpdateService(store, q, false)
		p := addPass(store, nil)

		u, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(map[string]string{"seat": "4D"}))
		if err != nil {
			t.Fatalf("UpdatePassFields: %v", err)
		}
		if u.AppleDeliveryStatus != model.DeliverySkipped || u.GoogleDeliveryStatus != model.DeliverySkipped {
			t.Errorf("statuses = %s/%s", u.AppleDeliveryStatus, u.GoogleDeliveryStatus)
		}
		if len(q.Jobs()) != 0 {
			t.Errorf("unexpected jobs %+v", q.Jobs())
		}
	})

	t.Run("Given an identical payload twice When updated Then two history rows and the same final data", func(t *testing.T) {
		store := newStore(t)
		svc := NewPassUpdateService(store, &recordingQueue{}, false)
		p := addPass(store, nil)
		fields := map[string]string{"seat": "5E"}

		for i := 0; i < 2; i++ {
			if _, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(fields)); err != nil {
				t.Fatalf("update %d: %v", i, err)
			}
		}
		if n := len(store.PassUpdates(p.ID)); n != 2 {
			t.Errorf("pass updates = %d, want 2", n)
		}
		if got := store.Pass(p.ID).Data["seat"]; got != "5E" {
			t.Errorf("seat = %q", got)
		}
	})

	t.Run("Given a failing queue When updated Then the update succeeds and records the enqueue error", func(t *testing.T) {
		store := newStore(t)
		q := &recordingQueue{err: errors.New("broker down")}
		svc := NewPassUpdateService(store, q, true)
		p := addPass(store, nil)

		u, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(map[string]string{"seat": "6F"}))
		if err != nil {
			t.Fatalf("UpdatePassFields: %v", err)
		}
		if u.ErrorMessage == nil || !strings.Contains(*u.ErrorMessage, "broker down") {
			t.Errorf("error message = %v", u.ErrorMessage)
		}
		stored := store.PassUpdates(p.ID)[0]
		if stored.ErrorMessage == nil || !strings.Contains(*stored.ErrorMessage, "broker down") {
			t.Errorf("stored error message = %v", stored.ErrorMessage)
		}
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewPassUpdateService(store, &recordingQueue{}, false)
	p := addPass(store, nil)
	for i := 0; i < HistoryPerPage+2; i++ {
		if _, err := svc.UpdatePassFields(ctx, p.ID, ownerInput(map[string]string{"n": strings.Repeat("x", i+1)})); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	t.Run("Given more rows than a page When page 1 is read Then newest first with totals", func(t *testing.T) {
		page, err := svc.History(ctx, repository.Scope{UserID: owner}, p.ID, 1)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(page.Data) != HistoryPerPage || page.Total != HistoryPerPage+2 || page.LastPage != 2 {
			t.Errorf("page = %d rows, total %d, last %d", len(page.Data), page.Total, page.LastPage)
		}
		if page.Data[0].ID < page.Data[1].ID {
			t.Errorf("history not newest first")
		}
	})

	t.Run("Given another tenant When it reads history Then forbidden", func(t *testing.T) {
		_, err := svc.History(ctx, repository.Scope{UserID: tenant}, p.ID, 1)
		assertKind(t, err, KindForbidden)
	})
}
