package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// BulkUpdateRepo persists bulk update jobs and their progress counters.
type BulkUpdateRepo struct {
	db *sql.DB
}

// NewBulkUpdateRepo returns a new BulkUpdateRepo bound to the given database.
func NewBulkUpdateRepo(db *sql.DB) *BulkUpdateRepo { return &BulkUpdateRepo{db: db} }

const bulkUpdateColumns = `id, user_id, template_id, field_key, field_value, filters, status,
	total_count, processed_count, failed_count, started_at, completed_at, created_at, updated_at`

func scanBulkUpdate(row rowScanner) (*model.BulkUpdate, error) {
	var (
		b                      model.BulkUpdate
		filters                []byte
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.TemplateID, &b.FieldKey, &b.FieldValue, &filters, &b.Status,
		&b.TotalCount, &b.ProcessedCount, &b.FailedCount, &startedAt, &completedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &b.Filter); err != nil {
			return nil, err
		}
	}
	b.StartedAt = nullTime(startedAt)
	b.CompletedAt = nullTime(completedAt)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// FindInFlightBulkUpdateTx returns the pending or processing job of a template,
// locking it, or nil when there is none.
func (r *BulkUpdateRepo) FindInFlightBulkUpdateTx(ctx context.Context, tx *sql.Tx, scope Scope, templateID uint64) (*model.BulkUpdate, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bulkUpdateColumns+` FROM bulk_updates
		WHERE user_id = ? AND template_id = ? AND status IN ('pending', 'processing') ORDER BY id LIMIT 1 FOR UPDATE`,
		scope.UserID, templateID)
	b, err := scanBulkUpdate(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// CreateBulkUpdateTx inserts a job within tx and populates its ID.
func (r *BulkUpdateRepo) CreateBulkUpdateTx(ctx context.Context, tx *sql.Tx, b *model.BulkUpdate) error {
	filters, err := json.Marshal(b.Filter)
	if err != nil {
		return err
	}
	const q = `INSERT INTO bulk_updates (user_id, template_id, field_key, field_value, filters, status,
		total_count, processed_count, failed_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.UserID, b.TemplateID, b.FieldKey, b.FieldValue, filters, b.Status,
		b.TotalCount, b.CreatedAt, b.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.UpdatedAt = b.CreatedAt
	return nil
}

// GetBulkUpdate returns a job owned by scope. Jobs of other tenants are
// reported as ErrNotFound.
func (r *BulkUpdateRepo) GetBulkUpdate(ctx context.Context, scope Scope, id uint64) (*model.BulkUpdate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bulkUpdateColumns+` FROM bulk_updates WHERE id = ? AND user_id = ?`, id, scope.UserID)
	return scanBulkUpdate(row)
}

// LoadBulkUpdate returns a job by ID for the queue worker.
func (r *BulkUpdateRepo) LoadBulkUpdate(ctx context.Context, id uint64) (*model.BulkUpdate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bulkUpdateColumns+` FROM bulk_updates WHERE id = ?`, id)
	return scanBulkUpdate(row)
}

// StartBulkUpdate moves a job to processing and resets its counters so
// a redelivered job recounts from zero.
func (r *BulkUpdateRepo) StartBulkUpdate(ctx context.Context, id uint64, at time.Time) error {
	const q = `UPDATE bulk_updates SET status = 'processing', started_at = COALESCE(started_at, ?),
		processed_count = 0, failed_count = 0, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, at, at, id)
	return err
}

// IncrementBulkProgress counts one pass as either updated or failed.
func (r *BulkUpdateRepo) IncrementBulkProgress(ctx context.Context, id uint64, failed bool) error {
	q := `UPDATE bulk_updates SET processed_count = processed_count + 1, updated_at = CURRENT_TIMESTAMP(6) WHERE id = ?`
	if failed {
		q = `UPDATE bulk_updates SET failed_count = failed_count + 1, updated_at = CURRENT_TIMESTAMP(6) WHERE id = ?`
	}
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// FinishBulkUpdate moves a job to a terminal status.
func (r *BulkUpdateRepo) FinishBulkUpdate(ctx context.Context, id uint64, status model.BulkStatus, at time.Time) error {
	const q = `UPDATE bulk_updates SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, status, at, at, id)
	return err
}
