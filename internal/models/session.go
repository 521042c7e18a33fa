package models

import "time"

// Slot is a fixed time window inside a session with a bounded seat capacity.
// Booked is mutated only through the store's reserve/release statements.
type Slot struct {
	SlotID   string    `json:"slot_id"`
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	Capacity int       `json:"capacity"`
	Booked   int       `json:"booked"`
}

// Session is one counter's duty period for a branch/insurance-type/service-day.
type Session struct {
	SessionID       string     `json:"session_id"`
	BranchID        string     `json:"branch_id"`
	InsuranceTypeID string     `json:"insurance_type_id"`
	CounterID       string     `json:"counter_id"`
	ServiceDay      time.Time  `json:"service_day"`
	Status          string     `json:"status"`
	ActiveSlotID    *string    `json:"active_slot_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Slots           []Slot     `json:"slots,omitempty"`
}

const (
	SessionScheduled = "SCHEDULED"
	SessionRunning   = "RUNNING"
	SessionPaused    = "PAUSED"
	SessionCompleted = "COMPLETED"
	SessionCancelled = "CANCELLED"
)
