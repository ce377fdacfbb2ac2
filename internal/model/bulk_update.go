package model

import "time"

// BulkStatus is the lifecycle of a bulk update job.
type BulkStatus string

const (
	BulkPending             BulkStatus = "pending"
	BulkProcessing          BulkStatus = "processing"
	BulkCompleted           BulkStatus = "completed"
	BulkCompletedWithErrors BulkStatus = "completed_with_errors"
)

// InFlight reports whether a job still blocks new bulk updates on its template.
func (s BulkStatus) InFlight() bool {
	return s == BulkPending || s == BulkProcessing
}

// BulkUpdate describes one field mutation applied to a filtered set of a
// template's passes. At most one in-flight job exists per template.
type BulkUpdate struct {
	ID             uint64     `json:"id"`
	UserID         uint64     `json:"-"`
	TemplateID     uint64     `json:"template_id"`
	FieldKey       string     `json:"field_key"`
	FieldValue     string     `json:"field_value"`
	Filter         PassFilter `json:"filters"`
	Status         BulkStatus `json:"status"`
	TotalCount     int        `json:"total_count"`
	ProcessedCount int        `json:"processed_count"`
	FailedCount    int        `json:"failed_count"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
