package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// PassUpdateRepo stores the update history of passes. Rows are written
// once inside the mutation transaction; afterwards only the delivery
// columns change.
type PassUpdateRepo struct {
	db *sql.DB
}

// NewPassUpdateRepo returns a new PassUpdateRepo bound to the given database.
func NewPassUpdateRepo(db *sql.DB) *PassUpdateRepo { return &PassUpdateRepo{db: db} }

const passUpdateColumns = `id, pass_id, user_id, initiated_by, source, fields_changed, change_messages,
	apple_delivery_status, google_delivery_status, apple_devices_notified, google_updated, error_message,
	created_at, updated_at`

func scanPassUpdate(row rowScanner) (*model.PassUpdate, error) {
	var (
		u                model.PassUpdate
		initiatedBy      sql.NullInt64
		fields, messages []byte
		errMsg           sql.NullString
	)
	err := row.Scan(&u.ID, &u.PassID, &u.UserID, &initiatedBy, &u.Source, &fields, &messages,
		&u.AppleDeliveryStatus, &u.GoogleDeliveryStatus, &u.AppleDevicesNotified, &u.GoogleUpdated,
		&errMsg, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if initiatedBy.Valid {
		v := uint64(initiatedBy.Int64)
		u.InitiatedBy = &v
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &u.FieldsChanged); err != nil {
			return nil, err
		}
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &u.ChangeMessages); err != nil {
			return nil, err
		}
	}
	u.ErrorMessage = nullString(errMsg)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// CreatePassUpdateTx inserts a history row within tx and populates its ID.
func (r *PassUpdateRepo) CreatePassUpdateTx(ctx context.Context, tx *sql.Tx, u *model.PassUpdate) error {
	fields, err := json.Marshal(u.FieldsChanged)
	if err != nil {
		return err
	}
	if u.ChangeMessages == nil {
		u.ChangeMessages = []string{}
	}
	messages, err := json.Marshal(u.ChangeMessages)
	if err != nil {
		return err
	}
	const q = `INSERT INTO pass_updates (pass_id, user_id, initiated_by, source, fields_changed, change_messages,
		apple_delivery_status, google_delivery_status, apple_devices_notified, google_updated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, FALSE, ?, ?)`
	res, err := tx.ExecContext(ctx, q, u.PassID, u.UserID, u.InitiatedBy, u.Source, fields, messages,
		u.AppleDeliveryStatus, u.GoogleDeliveryStatus, u.CreatedAt, u.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.UpdatedAt = u.CreatedAt
	return nil
}

// GetPassUpdate loads a history row by ID. Delivery workers use it, so it
// is not scoped; the row carries its own user_id.
func (r *PassUpdateRepo) GetPassUpdate(ctx context.Context, id uint64) (*model.PassUpdate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+passUpdateColumns+` FROM pass_updates WHERE id = ?`, id)
	return scanPassUpdate(row)
}

// ListPassUpdates returns one page of a pass's history, newest first,
// together with the total row count.
func (r *PassUpdateRepo) ListPassUpdates(ctx context.Context, scope Scope, passID uint64, limit, offset int) ([]*model.PassUpdate, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pass_updates WHERE pass_id = ? AND user_id = ?`, passID, scope.UserID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+passUpdateColumns+` FROM pass_updates
		WHERE pass_id = ? AND user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`, passID, scope.UserID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []*model.PassUpdate{}
	for rows.Next() {
		u, err := scanPassUpdate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// SetAppleDelivery records the outcome of the Apple channel. A non-nil
// errMsg is appended to any message already stored.
func (r *PassUpdateRepo) SetAppleDelivery(ctx context.Context, id uint64, status model.DeliveryStatus, notified int, errMsg *string) error {
	const q = `UPDATE pass_updates SET apple_delivery_status = ?, apple_devices_notified = ?,
		error_message = IF(? IS NULL, error_message, CONCAT_WS('; ', error_message, ?)), updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, status, notified, errMsg, errMsg, id)
	return err
}

// SetGoogleDelivery records the outcome of the Google channel.
func (r *PassUpdateRepo) SetGoogleDelivery(ctx context.Context, id uint64, status model.DeliveryStatus, updated bool, errMsg *string) error {
	const q = `UPDATE pass_updates SET google_delivery_status = ?, google_updated = ?,
		error_message = IF(? IS NULL, error_message, CONCAT_WS('; ', error_message, ?)), updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, status, updated, errMsg, errMsg, id)
	return err
}

// AppendPassUpdateError appends a message without touching delivery state.
func (r *PassUpdateRepo) AppendPassUpdateError(ctx context.Context, id uint64, msg string) error {
	const q = `UPDATE pass_updates SET error_message = CONCAT_WS('; ', error_message, ?), updated_at = CURRENT_TIMESTAMP(6) WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, msg, id)
	return err
}
