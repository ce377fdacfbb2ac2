package service

import (
	"context"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
)

// Transactor runs fn in one storage transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

// PassReader resolves passes.
type PassReader interface {
	PassOwner(ctx context.Context, id uint64) (uint64, error)
	GetPass(ctx context.Context, scope repository.Scope, id uint64) (*model.Pass, error)
	GetPassBySerial(ctx context.Context, scope repository.Scope, serial string) (*model.Pass, error)
	FindPassBySerial(ctx context.Context, serial string) (*model.Pass, error)
}

// PassUpdateStore is what PassUpdateService needs from storage.
type PassUpdateStore interface {
	Transactor
	PassReader
	ListPassUpdates(ctx context.Context, scope repository.Scope, passID uint64, limit, offset int) ([]*model.PassUpdate, int, error)
	AppendPassUpdateError(ctx context.Context, id uint64, msg string) error
}

// DeliveryStore is what DeliveryDispatcher needs from storage.
type DeliveryStore interface {
	GetPass(ctx context.Context, scope repository.Scope, id uint64) (*model.Pass, error)
	GetPassUpdate(ctx context.Context, id uint64) (*model.PassUpdate, error)
	SetAppleDelivery(ctx context.Context, id uint64, status model.DeliveryStatus, notified int, errMsg *string) error
	SetGoogleDelivery(ctx context.Context, id uint64, status model.DeliveryStatus, updated bool, errMsg *string) error
	ListActiveRegistrations(ctx context.Context, passTypeID, serial string) ([]model.DeviceRegistration, error)
	DeactivatePushToken(ctx context.Context, pushToken string) error
}

// RedemptionStore is what RedemptionEngine needs from storage.
type RedemptionStore interface {
	Transactor
	GetPassBySerial(ctx context.Context, scope repository.Scope, serial string) (*model.Pass, error)
}

// BulkUpdateStore is what BulkUpdateCoordinator needs from storage.
type BulkUpdateStore interface {
	Transactor
	TemplateExists(ctx context.Context, scope repository.Scope, id uint64) (bool, error)
	ListMatchingPasses(ctx context.Context, scope repository.Scope, templateID uint64, f model.PassFilter, now time.Time, afterID uint64, limit int) ([]*model.Pass, error)
	GetBulkUpdate(ctx context.Context, scope repository.Scope, id uint64) (*model.BulkUpdate, error)
	LoadBulkUpdate(ctx context.Context, id uint64) (*model.BulkUpdate, error)
	StartBulkUpdate(ctx context.Context, id uint64, at time.Time) error
	IncrementBulkProgress(ctx context.Context, id uint64, failed bool) error
	FinishBulkUpdate(ctx context.Context, id uint64, status model.BulkStatus, at time.Time) error
}

// ScanEventStore is what ScanEventRecorder needs from storage.
type ScanEventStore interface {
	GetPass(ctx context.Context, scope repository.Scope, id uint64) (*model.Pass, error)
	CreateScanEvent(ctx context.Context, e *model.ScanEvent) error
	ListScanEvents(ctx context.Context, scope repository.Scope, passID uint64, limit, offset int) ([]*model.ScanEvent, int, error)
}

// WalletStore is what WalletService needs from storage.
type WalletStore interface {
	FindPassByTypeAndSerial(ctx context.Context, passTypeID, serial string) (*model.Pass, error)
	RegisterDevice(ctx context.Context, deviceID, passTypeID, serial, pushToken string) (bool, error)
	UnregisterDevice(ctx context.Context, deviceID, passTypeID, serial string) error
	ListSerialsUpdatedSince(ctx context.Context, deviceID, passTypeID string, since *time.Time) ([]string, time.Time, error)
	SetPassFile(ctx context.Context, scope repository.Scope, passID uint64, path string, expectUpdatedAt time.Time) error
}

// Page is one page of a newest-first listing.
type Page[T any] struct {
	Data     []T `json:"data"`
	Page     int `json:"page"`
	PerPage  int `json:"per_page"`
	Total    int `json:"total"`
	LastPage int `json:"last_page"`
}

func newPage[T any](data []T, page, perPage, total int) Page[T] {
	last := (total + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	if data == nil {
		data = []T{}
	}
	return Page[T]{Data: data, Page: page, PerPage: perPage, Total: total, LastPage: last}
}
