package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
)

// DeviceRegistrationRepo manages wallet device registrations. A row is
// identified by (device_library_id, pass_type_id, serial_number).
type DeviceRegistrationRepo struct {
	db *sql.DB
}

// NewDeviceRegistrationRepo returns a new DeviceRegistrationRepo bound to the given database.
func NewDeviceRegistrationRepo(db *sql.DB) *DeviceRegistrationRepo {
	return &DeviceRegistrationRepo{db: db}
}

// RegisterDevice upserts a registration and reactivates it. The boolean
// reports whether a new row was created.
func (r *DeviceRegistrationRepo) RegisterDevice(ctx context.Context, deviceID, passTypeID, serial, pushToken string) (bool, error) {
	const q = `INSERT INTO device_registrations (device_library_id, pass_type_id, serial_number, push_token, is_active)
		VALUES (?, ?, ?, ?, TRUE)
		ON DUPLICATE KEY UPDATE push_token = VALUES(push_token), is_active = TRUE, updated_at = CURRENT_TIMESTAMP(6)`
	res, err := r.db.ExecContext(ctx, q, deviceID, passTypeID, serial, pushToken)
	if err != nil {
		return false, err
	}
	// MySQL reports 1 for an insert and 2 for an update of an existing row.
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UnregisterDevice deletes a registration. ErrNotFound is returned when
// none matched.
func (r *DeviceRegistrationRepo) UnregisterDevice(ctx context.Context, deviceID, passTypeID, serial string) error {
	const q = `DELETE FROM device_registrations WHERE device_library_id = ? AND pass_type_id = ? AND serial_number = ?`
	res, err := r.db.ExecContext(ctx, q, deviceID, passTypeID, serial)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveRegistrations returns the active registrations of a pass.
func (r *DeviceRegistrationRepo) ListActiveRegistrations(ctx context.Context, passTypeID, serial string) ([]model.DeviceRegistration, error) {
	const q = `SELECT id, device_library_id, pass_type_id, serial_number, push_token, is_active, created_at, updated_at
		FROM device_registrations WHERE pass_type_id = ? AND serial_number = ? AND is_active = TRUE ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, passTypeID, serial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.DeviceRegistration
	for rows.Next() {
		var d model.DeviceRegistration
		if err := rows.Scan(&d.ID, &d.DeviceLibraryID, &d.PassTypeID, &d.SerialNumber, &d.PushToken,
			&d.IsActive, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeactivatePushToken deactivates every registration using a push token
// that APNs reported as no longer valid.
func (r *DeviceRegistrationRepo) DeactivatePushToken(ctx context.Context, pushToken string) error {
	const q = `UPDATE device_registrations SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP(6) WHERE push_token = ? AND is_active = TRUE`
	_, err := r.db.ExecContext(ctx, q, pushToken)
	return err
}

func (r *DeviceRegistrationRepo) countActive(ctx context.Context, q dbtx, passTypeID, serial string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_registrations WHERE pass_type_id = ? AND serial_number = ? AND is_active = TRUE`,
		passTypeID, serial).Scan(&n)
	return n, err
}
