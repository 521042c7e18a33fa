package store

import (
	"encoding/json"
	"testing"
	"time"
)

func TestComputeTokenEventHashChaining(t *testing.T) {
	createdAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	payload := json.RawMessage(`{"status":"waiting"}`)

	first := ComputeTokenEventHash("", "token-1", "register", payload, createdAt, 1)
	if first == "" {
		t.Fatalf("expected non-empty hash")
	}

	// Deterministic for identical inputs.
	if again := ComputeTokenEventHash("", "token-1", "register", payload, createdAt, 1); again != first {
		t.Fatalf("hash not deterministic: %s vs %s", first, again)
	}

	// Any input change produces a different hash.
	if other := ComputeTokenEventHash("", "token-1", "register", payload, createdAt, 2); other == first {
		t.Fatalf("seq change should change hash")
	}
	if other := ComputeTokenEventHash("", "token-2", "register", payload, createdAt, 1); other == first {
		t.Fatalf("token change should change hash")
	}
	if other := ComputeTokenEventHash(first, "token-1", "register", payload, createdAt, 1); other == first {
		t.Fatalf("prev hash change should change hash")
	}
}

func TestRehydrateToken(t *testing.T) {
	arrivedAt := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	calledAt := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
	counterID := "counter-1"

	registerPayload, _ := json.Marshal(eventPayload{
		TokenID:     "token-1",
		TokenNumber: "A-001",
		Status:      "waiting",
		SessionID:   "session-1",
		BranchID:    "branch-1",
		ArrivedAt:   &arrivedAt,
	})
	calledPayload, _ := json.Marshal(eventPayload{
		TokenID:       "token-1",
		Status:        "called",
		FirstCalledAt: &calledAt,
		CounterID:     &counterID,
	})

	token, err := RehydrateToken([]TokenEvent{
		{TokenID: "token-1", TokenSeq: 1, Action: "register", Payload: registerPayload},
		{TokenID: "token-1", TokenSeq: 2, Action: "pop_next", Payload: calledPayload},
	})
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	if token.TokenID != "token-1" || token.TokenNumber != "A-001" {
		t.Fatalf("identity not folded: %+v", token)
	}
	if token.Status != "called" {
		t.Fatalf("expected final status called, got %s", token.Status)
	}
	if !token.ArrivedAt.Equal(arrivedAt) {
		t.Fatalf("arrived_at lost: %v", token.ArrivedAt)
	}
	if token.FirstCalledAt == nil || !token.FirstCalledAt.Equal(calledAt) {
		t.Fatalf("first_called_at not folded")
	}
	if token.CounterID == nil || *token.CounterID != counterID {
		t.Fatalf("counter_id not folded")
	}
}

func TestRehydrateTokenBadPayload(t *testing.T) {
	_, err := RehydrateToken([]TokenEvent{
		{TokenID: "token-1", TokenSeq: 1, Payload: json.RawMessage(`{not json`)},
	})
	if err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
