package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// ScanEventRepo appends and reads the scanner audit log.
type ScanEventRepo struct {
	db *sql.DB
}

// NewScanEventRepo returns a new ScanEventRepo bound to the given database.
func NewScanEventRepo(db *sql.DB) *ScanEventRepo { return &ScanEventRepo{db: db} }

// CreateScanEvent inserts an audit row and populates its ID.
func (r *ScanEventRepo) CreateScanEvent(ctx context.Context, e *model.ScanEvent) error {
	const q = `INSERT INTO scan_events (user_id, pass_id, scanner_link_id, action, result, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, e.UserID, e.PassID, e.ScannerLinkID, e.Action, e.Result, e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// ListScanEvents returns one page of a pass's scan history, newest first.
func (r *ScanEventRepo) ListScanEvents(ctx context.Context, scope Scope, passID uint64, limit, offset int) ([]*model.ScanEvent, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_events WHERE pass_id = ? AND user_id = ?`, passID, scope.UserID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	const q = `SELECT id, user_id, pass_id, scanner_link_id, action, result, ip_address, user_agent, created_at
		FROM scan_events WHERE pass_id = ? AND user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, passID, scope.UserID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []*model.ScanEvent{}
	for rows.Next() {
		var (
			e   model.ScanEvent
			pid sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &pid, &e.ScannerLinkID, &e.Action, &e.Result, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if pid.Valid {
			v := uint64(pid.Int64)
			e.PassID = &v
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, total, rows.Err()
}
