package models

import "time"

// OutboundMessage is one notification job. It is owned by the delivery worker
// once created; callers only ever enqueue and walk away.
type OutboundMessage struct {
	MessageID        string     `json:"message_id"`
	Destination      string     `json:"destination"`
	Body             string     `json:"body"`
	Kind             string     `json:"kind,omitempty"`
	TokenID          string     `json:"token_id,omitempty"`
	Status           string     `json:"status"`
	Attempts         int        `json:"attempts"`
	NextAttemptAt    time.Time  `json:"next_attempt_at"`
	LastError        string     `json:"last_error,omitempty"`
	ProviderResponse string     `json:"provider_response,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
}

const (
	MessageQueued     = "queued"
	MessageProcessing = "processing"
	MessageSent       = "sent"
	MessageRetrying   = "retrying"
	MessageFailed     = "failed"
)
