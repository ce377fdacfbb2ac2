package model

import "time"

// DeliveryStatus tracks one channel of an update's fan-out.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// UpdateSource records which entry point applied a mutation.
type UpdateSource string

const (
	SourceAPI           UpdateSource = "api"
	SourceDeviceService UpdateSource = "device_service"
	SourceBulk          UpdateSource = "bulk"
)

// FieldChange is the before/after value of one field. Old is nil when the
// key did not exist before the update.
type FieldChange struct {
	Old *string `json:"old"`
	New string  `json:"new"`
}

// PassUpdate is the history row written atomically with every applied
// field mutation. After creation only the delivery columns change.
type PassUpdate struct {
	ID                   uint64                 `json:"id"`
	PassID               uint64                 `json:"pass_id"`
	UserID               uint64                 `json:"-"`
	InitiatedBy          *uint64                `json:"initiated_by"`
	Source               UpdateSource           `json:"source"`
	FieldsChanged        map[string]FieldChange `json:"fields_changed"`
	ChangeMessages       []string               `json:"change_messages"`
	AppleDeliveryStatus  DeliveryStatus         `json:"apple_delivery_status"`
	GoogleDeliveryStatus DeliveryStatus         `json:"google_delivery_status"`
	AppleDevicesNotified int                    `json:"apple_devices_notified"`
	GoogleUpdated        bool                   `json:"google_updated"`
	ErrorMessage         *string                `json:"error_message"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}
