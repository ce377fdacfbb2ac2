package model

import "time"

// DeviceRegistration links a wallet device to a pass for push updates.
// Identity is the (DeviceLibraryID, PassTypeID, SerialNumber) triple.
type DeviceRegistration struct {
	ID              uint64    // device_registrations.id
	DeviceLibraryID string    // device_registrations.device_library_id
	PassTypeID      string    // device_registrations.pass_type_id
	SerialNumber    string    // device_registrations.serial_number
	PushToken       string    // device_registrations.push_token
	IsActive        bool      // device_registrations.is_active
	CreatedAt       time.Time // device_registrations.created_at
	UpdatedAt       time.Time // device_registrations.updated_at
}
