package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// Scope is the tenant predicate threaded through every pass-family query.
// There is no ambient tenant filter: callers must pass the scope they
// resolved from the authenticated principal or from the pass owner.
type Scope struct {
	UserID uint64
}

// ScopeFor returns the scope owning the given pass.
func ScopeFor(p *model.Pass) Scope { return Scope{UserID: p.UserID} }

// Tx is the set of writes and locking reads that must run inside one
// database transaction. It is implemented over *sql.Tx by this package
// and in memory by the memstore package.
type Tx interface {
	// LockPass loads the pass with an exclusive row lock held until the
	// transaction ends. ErrNotFound when it does not exist in scope.
	LockPass(ctx context.Context, scope Scope, passID uint64) (*model.Pass, error)
	// LockPassBySerial is LockPass addressed by serial number.
	LockPassBySerial(ctx context.Context, scope Scope, serial string) (*model.Pass, error)
	SavePassData(ctx context.Context, p *model.Pass) error
	MarkRedeemed(ctx context.Context, p *model.Pass) error
	CountActiveRegistrations(ctx context.Context, passTypeID, serial string) (int, error)
	CreatePassUpdate(ctx context.Context, u *model.PassUpdate) error
	// FindInFlightBulkUpdate returns the pending or processing job of the
	// template, or nil when there is none.
	FindInFlightBulkUpdate(ctx context.Context, scope Scope, templateID uint64) (*model.BulkUpdate, error)
	CountMatchingPasses(ctx context.Context, scope Scope, templateID uint64, f model.PassFilter, now time.Time) (int, error)
	CreateBulkUpdate(ctx context.Context, b *model.BulkUpdate) error
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so row scanning code can
// be shared between transactional and plain reads.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store aggregates the MySQL repositories. Embedding promotes their
// methods so a single *Store satisfies the narrow interfaces declared by
// the service layer.
type Store struct {
	*PassRepo
	*PassUpdateRepo
	*DeviceRegistrationRepo
	*BulkUpdateRepo
	*ScanEventRepo
	*ScannerLinkRepo
	*TemplateRepo

	db *sql.DB
}

// NewStore wires every repository to the same database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{
		PassRepo:               NewPassRepo(db),
		PassUpdateRepo:         NewPassUpdateRepo(db),
		DeviceRegistrationRepo: NewDeviceRegistrationRepo(db),
		BulkUpdateRepo:         NewBulkUpdateRepo(db),
		ScanEventRepo:          NewScanEventRepo(db),
		ScannerLinkRepo:        NewScannerLinkRepo(db),
		TemplateRepo:           NewTemplateRepo(db),
		db:                     db,
	}
}

// DB exposes the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&sqlTx{tx: tx, s: s}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

type sqlTx struct {
	tx *sql.Tx
	s  *Store
}

func (t *sqlTx) LockPass(ctx context.Context, scope Scope, passID uint64) (*model.Pass, error) {
	return t.s.PassRepo.LockTx(ctx, t.tx, scope, passID)
}

func (t *sqlTx) LockPassBySerial(ctx context.Context, scope Scope, serial string) (*model.Pass, error) {
	return t.s.PassRepo.LockBySerialTx(ctx, t.tx, scope, serial)
}

func (t *sqlTx) SavePassData(ctx context.Context, p *model.Pass) error {
	return t.s.PassRepo.SaveDataTx(ctx, t.tx, p)
}

func (t *sqlTx) MarkRedeemed(ctx context.Context, p *model.Pass) error {
	return t.s.PassRepo.MarkRedeemedTx(ctx, t.tx, p)
}

func (t *sqlTx) CountActiveRegistrations(ctx context.Context, passTypeID, serial string) (int, error) {
	return t.s.DeviceRegistrationRepo.countActive(ctx, t.tx, passTypeID, serial)
}

func (t *sqlTx) CreatePassUpdate(ctx context.Context, u *model.PassUpdate) error {
	return t.s.PassUpdateRepo.CreatePassUpdateTx(ctx, t.tx, u)
}

func (t *sqlTx) FindInFlightBulkUpdate(ctx context.Context, scope Scope, templateID uint64) (*model.BulkUpdate, error) {
	return t.s.BulkUpdateRepo.FindInFlightBulkUpdateTx(ctx, t.tx, scope, templateID)
}

func (t *sqlTx) CountMatchingPasses(ctx context.Context, scope Scope, templateID uint64, f model.PassFilter, now time.Time) (int, error) {
	return t.s.PassRepo.countMatching(ctx, t.tx, scope, templateID, f, now)
}

func (t *sqlTx) CreateBulkUpdate(ctx context.Context, b *model.BulkUpdate) error {
	return t.s.BulkUpdateRepo.CreateBulkUpdateTx(ctx, t.tx, b)
}

// nullTime converts a nullable column into a *time.Time in UTC.
func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// nullString converts a nullable column into a *string.
func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
