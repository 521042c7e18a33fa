package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"iqms/queue-service/internal/models"
)

// TokenEvent is one entry in a token's append-only history log. Entries are
// hash-chained per token so the log is tamper-evident.
type TokenEvent struct {
	TokenID   string          `json:"token_id"`
	TokenSeq  int             `json:"token_seq"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Note      string          `json:"note,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TokenID        string     `json:"token_id"`
	TokenNumber    string     `json:"token_number"`
	Status         string     `json:"status"`
	SessionID      string     `json:"session_id"`
	BranchID       string     `json:"branch_id"`
	SlotID         string     `json:"slot_id"`
	ArrivedAt      *time.Time `json:"arrived_at"`
	FirstCalledAt  *time.Time `json:"first_called_at"`
	ServiceStartAt *time.Time `json:"service_start_at"`
	EndedAt        *time.Time `json:"ended_at"`
	CounterID      *string    `json:"counter_id"`
	ToCounterID    string     `json:"to_counter_id"`
}

func ComputeTokenEventHash(prevHash, tokenID, action string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, tokenID, action, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// RehydrateToken folds a token's event log back into its latest state. Used by
// audit tooling; the live read path goes to the tokens table.
func RehydrateToken(events []TokenEvent) (models.Token, error) {
	var token models.Token
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Token{}, err
		}
		if payload.TokenID != "" {
			token.TokenID = payload.TokenID
		}
		if payload.TokenNumber != "" {
			token.TokenNumber = payload.TokenNumber
		}
		if payload.SessionID != "" {
			token.SessionID = payload.SessionID
		}
		if payload.BranchID != "" {
			token.BranchID = payload.BranchID
		}
		if payload.SlotID != "" {
			token.SlotID = payload.SlotID
		}
		if payload.Status != "" {
			token.Status = payload.Status
		}
		if payload.ArrivedAt != nil {
			token.ArrivedAt = *payload.ArrivedAt
		}
		if payload.FirstCalledAt != nil {
			token.FirstCalledAt = payload.FirstCalledAt
		}
		if payload.ServiceStartAt != nil {
			token.ServiceStartAt = payload.ServiceStartAt
		}
		if payload.EndedAt != nil {
			token.EndedAt = payload.EndedAt
		}
		if payload.CounterID != nil {
			token.CounterID = payload.CounterID
		}
	}
	return token, nil
}
