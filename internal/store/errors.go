package store

import "errors"

var (
	ErrTokenNotFound         = errors.New("token not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSlotNotFound          = errors.New("slot not found")
	ErrSlotFull              = errors.New("slot capacity exhausted")
	ErrNoToken               = errors.New("no waiting token")
	ErrInvalidState          = errors.New("invalid token state")
	ErrInvalidSessionState   = errors.New("invalid session state")
	ErrCounterMismatch       = errors.New("token assigned to different counter")
	ErrNumberConflict        = errors.New("duplicate token number")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrInsuranceTypeNotFound = errors.New("insurance type not found")
	ErrBranchNotFound        = errors.New("branch not found")
	ErrMessageNotFound       = errors.New("message not found")
)
