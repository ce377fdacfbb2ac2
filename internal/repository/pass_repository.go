package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// PassRepo provides data access for the passes table. Every read that
// returns tenant data takes a Scope; the few unscoped lookups exist for
// callers that authenticate by a per-pass credential instead of a user.
type PassRepo struct {
	db *sql.DB
}

// NewPassRepo returns a new PassRepo bound to the given database.
func NewPassRepo(db *sql.DB) *PassRepo { return &PassRepo{db: db} }

const passColumns = `id, user_id, template_id, serial_number, pass_type_id, platforms, usage_type,
	pass_data, authentication_token, pkpass_path, voided_at, redeemed_at, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (*model.Pass, error) {
	var (
		p                               model.Pass
		platforms, data                 []byte
		pkpass                          sql.NullString
		voidedAt, redeemedAt, expiresAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.UserID, &p.TemplateID, &p.SerialNumber, &p.PassTypeID, &platforms,
		&p.UsageType, &data, &p.AuthenticationToken, &pkpass, &voidedAt, &redeemedAt, &expiresAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(platforms) > 0 {
		if err := json.Unmarshal(platforms, &p.Platforms); err != nil {
			return nil, err
		}
	}
	p.Data = map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.Data); err != nil {
			return nil, err
		}
	}
	p.PkpassPath = nullString(pkpass)
	p.VoidedAt = nullTime(voidedAt)
	p.RedeemedAt = nullTime(redeemedAt)
	p.ExpiresAt = nullTime(expiresAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// PassOwner returns the owning user of a pass without loading it. It is
// used to tell a missing pass (ErrNotFound) from a foreign one.
func (r *PassRepo) PassOwner(ctx context.Context, id uint64) (uint64, error) {
	var owner uint64
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM passes WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return owner, err
}

// GetPass returns the pass with the given ID if it belongs to scope.
// ErrNotFound is returned when the pass does not exist and ErrForbidden
// when it belongs to another tenant.
func (r *PassRepo) GetPass(ctx context.Context, scope Scope, id uint64) (*model.Pass, error) {
	owner, err := r.PassOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner != scope.UserID {
		return nil, ErrForbidden
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ? AND user_id = ?`, id, scope.UserID)
	return scanPass(row)
}

// GetPassBySerial returns the pass with the given serial within scope.
// Serials of other tenants are reported as ErrNotFound so scanners
// cannot probe foreign serials.
func (r *PassRepo) GetPassBySerial(ctx context.Context, scope Scope, serial string) (*model.Pass, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE serial_number = ? AND user_id = ?`, serial, scope.UserID)
	return scanPass(row)
}

// FindPassBySerial looks a pass up by serial across tenants. Only the
// signed service route uses it; the signature stands in for the tenant.
func (r *PassRepo) FindPassBySerial(ctx context.Context, serial string) (*model.Pass, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE serial_number = ?`, serial)
	return scanPass(row)
}

// FindPassByTypeAndSerial resolves the pass addressed by the wallet device
// protocol. Callers must verify the authentication token.
func (r *PassRepo) FindPassByTypeAndSerial(ctx context.Context, passTypeID, serial string) (*model.Pass, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE pass_type_id = ? AND serial_number = ?`, passTypeID, serial)
	return scanPass(row)
}

// LockTx loads a pass with SELECT ... FOR UPDATE inside tx.
func (r *PassRepo) LockTx(ctx context.Context, tx *sql.Tx, scope Scope, id uint64) (*model.Pass, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ? AND user_id = ? FOR UPDATE`, id, scope.UserID)
	return scanPass(row)
}

// LockBySerialTx is LockTx addressed by serial number.
func (r *PassRepo) LockBySerialTx(ctx context.Context, tx *sql.Tx, scope Scope, serial string) (*model.Pass, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE serial_number = ? AND user_id = ? FOR UPDATE`, serial, scope.UserID)
	return scanPass(row)
}

// SaveDataTx persists pass_data, clears the generated file path and bumps
// updated_at. The new updated_at is written back onto p.
func (r *PassRepo) SaveDataTx(ctx context.Context, tx *sql.Tx, p *model.Pass) error {
	data, err := json.Marshal(p.Data)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	const q = `UPDATE passes SET pass_data = ?, pkpass_path = NULL, updated_at = ? WHERE id = ? AND user_id = ?`
	if _, err := tx.ExecContext(ctx, q, data, now, p.ID, p.UserID); err != nil {
		return err
	}
	p.PkpassPath = nil
	p.UpdatedAt = now
	return nil
}

// MarkRedeemedTx sets redeemed_at on a pass that is not yet redeemed.
// ErrConflict is returned when the guard matched no row.
func (r *PassRepo) MarkRedeemedTx(ctx context.Context, tx *sql.Tx, p *model.Pass) error {
	now := time.Now().UTC()
	const q = `UPDATE passes SET redeemed_at = ?, updated_at = ? WHERE id = ? AND user_id = ? AND redeemed_at IS NULL`
	res, err := tx.ExecContext(ctx, q, now, now, p.ID, p.UserID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	p.RedeemedAt = &now
	p.UpdatedAt = now
	return nil
}

// SetPassFile records the blob path of a freshly generated pass file. The
// write only lands if the pass has not changed since expectUpdatedAt, so
// a file built from stale data is never recorded.
func (r *PassRepo) SetPassFile(ctx context.Context, scope Scope, passID uint64, path string, expectUpdatedAt time.Time) error {
	const q = `UPDATE passes SET pkpass_path = ? WHERE id = ? AND user_id = ? AND updated_at = ?`
	res, err := r.db.ExecContext(ctx, q, path, passID, scope.UserID, expectUpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// matchingWhere builds the predicate shared by the bulk update count and
// listing queries.
func matchingWhere(scope Scope, templateID uint64, f model.PassFilter, now time.Time) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`user_id = ? AND template_id = ?`)
	args := []any{scope.UserID, templateID}
	switch f.Status {
	case model.PassActive:
		sb.WriteString(` AND voided_at IS NULL AND redeemed_at IS NULL AND (expires_at IS NULL OR expires_at > ?)`)
		args = append(args, now)
	case model.PassRedeemed:
		sb.WriteString(` AND voided_at IS NULL AND redeemed_at IS NOT NULL`)
	case model.PassVoided:
		sb.WriteString(` AND voided_at IS NOT NULL`)
	case model.PassExpired:
		sb.WriteString(` AND voided_at IS NULL AND redeemed_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?`)
		args = append(args, now)
	}
	if f.Platform != "" {
		sb.WriteString(` AND JSON_CONTAINS(platforms, JSON_QUOTE(?))`)
		args = append(args, string(f.Platform))
	}
	return sb.String(), args
}

func (r *PassRepo) countMatching(ctx context.Context, q dbtx, scope Scope, templateID uint64, f model.PassFilter, now time.Time) (int, error) {
	where, args := matchingWhere(scope, templateID, f, now)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM passes WHERE `+where, args...).Scan(&n)
	return n, err
}

// ListMatchingPasses returns up to limit passes of the template matching
// the filter with an ID greater than afterID, in ascending ID order.
func (r *PassRepo) ListMatchingPasses(ctx context.Context, scope Scope, templateID uint64, f model.PassFilter, now time.Time, afterID uint64, limit int) ([]*model.Pass, error) {
	where, args := matchingWhere(scope, templateID, f, now)
	args = append(args, afterID, limit)
	rows, err := r.db.QueryContext(ctx, `SELECT `+passColumns+` FROM passes WHERE `+where+` AND id > ? ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListSerialsUpdatedSince returns the serials of passes of the given type
// registered to a device, optionally restricted to passes updated after
// since. The returned time is the newest updated_at among the results.
func (r *PassRepo) ListSerialsUpdatedSince(ctx context.Context, deviceID, passTypeID string, since *time.Time) ([]string, time.Time, error) {
	q := `SELECT p.serial_number, p.updated_at FROM passes p
		JOIN device_registrations d ON d.pass_type_id = p.pass_type_id AND d.serial_number = p.serial_number
		WHERE d.device_library_id = ? AND d.pass_type_id = ? AND d.is_active = TRUE`
	args := []any{deviceID, passTypeID}
	if since != nil {
		q += ` AND p.updated_at > ?`
		args = append(args, *since)
	}
	q += ` ORDER BY p.id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()
	var (
		serials []string
		latest  time.Time
	)
	for rows.Next() {
		var (
			s  string
			ts time.Time
		)
		if err := rows.Scan(&s, &ts); err != nil {
			return nil, time.Time{}, err
		}
		serials = append(serials, s)
		if ts.After(latest) {
			latest = ts.UTC()
		}
	}
	return serials, latest, rows.Err()
}
