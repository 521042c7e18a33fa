package store

import (
	"context"
	"time"

	"iqms/queue-service/internal/models"
)

type RegisterWalkInInput struct {
	RequestID     string
	SessionID     string
	SlotID        string
	Customer      models.CustomerSnapshot
	PriorityClass string
	ArrivedAt     time.Time
}

type CheckInInput struct {
	RequestID     string
	BranchID      string
	AppointmentID string
	ArrivedAt     time.Time
}

type PopNextInput struct {
	RequestID string
	SessionID string
	CounterID string
	SlotID    string
	Actor     string
	CalledAt  time.Time
}

type TokenActionInput struct {
	RequestID  string
	TokenID    string
	SessionID  string
	CounterID  string
	Actor      string
	Note       string
	OccurredAt time.Time
}

type TransferInput struct {
	RequestID   string
	TokenID     string
	SessionID   string
	ToCounterID string
	ByCounterID string
	Actor       string
	Note        string
	OccurredAt  time.Time
}

type SessionActionInput struct {
	SessionID  string
	Action     string
	Actor      string
	OccurredAt time.Time
}

type EnqueueMessageInput struct {
	Destination string
	Body        string
	Kind        string
	TokenID     string
}

// DisplaySnapshot is the raw material the display projection is computed from.
// Resolving it is a read; the arithmetic lives in internal/display.
type DisplaySnapshot struct {
	Session       models.Session
	ActiveSlot    *models.Slot
	Serving       *models.Token
	LastCalled    *models.Token
	NextWaiting   *models.Token
	ArrivedInSlot int
	WaitingCount  int
}

// ServingPair identifies one (session, counter) the periodic sweep must check.
type ServingPair struct {
	SessionID string
	CounterID string
}

type TokenStore interface {
	RegisterWalkIn(ctx context.Context, input RegisterWalkInInput) (models.Token, bool, error)
	CheckInAppointment(ctx context.Context, input CheckInInput) (models.Token, bool, error)
	GetToken(ctx context.Context, tokenID string) (models.Token, error)
	ListWaiting(ctx context.Context, sessionID, slotID string) ([]models.Token, error)
	PopNextWaiting(ctx context.Context, input PopNextInput) (models.Token, bool, error)
	RecallToken(ctx context.Context, input TokenActionInput) (models.Token, bool, error)
	StartService(ctx context.Context, input TokenActionInput) (models.Token, bool, error)
	EndService(ctx context.Context, input TokenActionInput) (models.Token, bool, error)
	SkipToken(ctx context.Context, input TokenActionInput) (models.Token, bool, error)
	NoShowToken(ctx context.Context, input TokenActionInput) (models.Token, bool, error)
	TransferToken(ctx context.Context, input TransferInput) (models.Token, bool, error)
	ReturnToWaiting(ctx context.Context, input TokenActionInput) (models.Token, bool, error)
	ListTokenEvents(ctx context.Context, tokenID string) ([]TokenEvent, error)
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	ReserveSlot(ctx context.Context, sessionID, slotID string) error
	ReleaseSlot(ctx context.Context, sessionID, slotID string) error
	ApplySessionAction(ctx context.Context, input SessionActionInput) (models.Session, error)
	ActivateSlot(ctx context.Context, sessionID, slotID string) (models.Session, error)
	EnforceSingleServing(ctx context.Context, sessionID, counterID string) (int, error)
	ListServingPairs(ctx context.Context) ([]ServingPair, error)
	DisplaySnapshot(ctx context.Context, sessionID, counterID string) (DisplaySnapshot, error)
}

type MessageStore interface {
	EnqueueMessage(ctx context.Context, input EnqueueMessageInput) (models.OutboundMessage, error)
	ClaimMessage(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error)
	MarkMessageSent(ctx context.Context, messageID, providerResponse string) error
	MarkMessageRetrying(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkMessageFailed(ctx context.Context, messageID string, attempts int, lastError string) error
	GetMessage(ctx context.Context, messageID string) (models.OutboundMessage, error)
	ListMessages(ctx context.Context, status string, limit int) ([]models.OutboundMessage, error)
}
