package models

import "time"

// CustomerSnapshot is copied onto the token at registration so later edits to
// the source customer record do not change queue history.
type CustomerSnapshot struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone,omitempty"`
}

type Token struct {
	TokenID         string           `json:"token_id"`
	TokenNumber     string           `json:"token_number"`
	SessionID       string           `json:"session_id,omitempty"`
	BranchID        string           `json:"branch_id,omitempty"`
	InsuranceTypeID string           `json:"insurance_type_id,omitempty"`
	SlotID          string           `json:"slot_id,omitempty"`
	ServiceDay      time.Time        `json:"service_day"`
	Origin          string           `json:"origin"`
	AppointmentID   *string          `json:"appointment_id,omitempty"`
	Customer        CustomerSnapshot `json:"customer"`
	PriorityClass   string           `json:"priority_class,omitempty"`
	Status          string           `json:"status"`
	CounterID       *string          `json:"counter_id,omitempty"`
	RequestID       string           `json:"request_id,omitempty"`
	ArrivedAt       time.Time        `json:"arrived_at"`
	FirstCalledAt   *time.Time       `json:"first_called_at,omitempty"`
	ServiceStartAt  *time.Time       `json:"service_start_at,omitempty"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	SkipCount       int              `json:"skip_count"`
	TransferCount   int              `json:"transfer_count"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusNoShow    = "no_show"
)

const (
	OriginAppointment = "appointment"
	OriginWalkIn      = "walk_in"
)
