package display

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"
)

// Slot phases as shown on the counter display.
const (
	PhaseIdle     = "idle"
	PhasePrestart = "prestart"
	PhaseRunning  = "running"
	PhasePaused   = "paused"
	PhaseEnded    = "ended"
)

// TokenView is the subset of a token the display shows. No customer PII
// beyond the name; the display hangs in a public waiting room.
type TokenView struct {
	TokenID      string `json:"token_id"`
	TokenNumber  string `json:"token_number"`
	CustomerName string `json:"customer_name,omitempty"`
	Status       string `json:"status"`
}

type SlotView struct {
	SlotID   string    `json:"slot_id"`
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	Capacity int       `json:"capacity"`
	Booked   int       `json:"booked"`
}

// State is one fully rendered display frame. Every push and every GET of the
// display endpoint carries exactly this shape.
type State struct {
	SessionID        string     `json:"session_id"`
	CounterID        string     `json:"counter_id"`
	SessionStatus    string     `json:"session_status"`
	SlotPhase        string     `json:"slot_phase"`
	ActiveSlot       *SlotView  `json:"active_slot,omitempty"`
	Current          *TokenView `json:"current,omitempty"`
	Next             *TokenView `json:"next,omitempty"`
	WaitingCount     int        `json:"waiting_count"`
	BudgetSeconds    int        `json:"budget_seconds,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	GeneratedAt      time.Time  `json:"generated_at"`
}

// Compute renders a display frame from a raw snapshot. Pure function; all
// clock reads come in through now.
func Compute(snap store.DisplaySnapshot, counterID string, now time.Time, defaultBudget time.Duration) State {
	state := State{
		SessionID:     snap.Session.SessionID,
		CounterID:     counterID,
		SessionStatus: snap.Session.Status,
		SlotPhase:     slotPhase(snap, now),
		WaitingCount:  snap.WaitingCount,
		GeneratedAt:   now,
	}
	if snap.ActiveSlot != nil {
		state.ActiveSlot = &SlotView{
			SlotID:   snap.ActiveSlot.SlotID,
			StartAt:  snap.ActiveSlot.StartAt,
			EndAt:    snap.ActiveSlot.EndAt,
			Capacity: snap.ActiveSlot.Capacity,
			Booked:   snap.ActiveSlot.Booked,
		}
	}

	// The display shows the serving token when there is one, otherwise the
	// most recently called token so the customer still sees their number.
	current := snap.Serving
	if current == nil {
		current = snap.LastCalled
	}
	state.Current = tokenView(current)
	state.Next = tokenView(snap.NextWaiting)

	if snap.ActiveSlot != nil {
		budget := serviceBudget(*snap.ActiveSlot, snap.ArrivedInSlot, defaultBudget)
		state.BudgetSeconds = int(budget / time.Second)
		if snap.Serving != nil && snap.Serving.ServiceStartAt != nil {
			remaining := budget - now.Sub(*snap.Serving.ServiceStartAt)
			if remaining < 0 {
				remaining = 0
			}
			state.RemainingSeconds = int(remaining / time.Second)
		}
	}
	return state
}

func slotPhase(snap store.DisplaySnapshot, now time.Time) string {
	switch snap.Session.Status {
	case models.SessionCompleted, models.SessionCancelled:
		return PhaseEnded
	case models.SessionPaused:
		return PhasePaused
	}
	if snap.ActiveSlot == nil {
		return PhaseIdle
	}
	if now.Before(snap.ActiveSlot.StartAt) {
		return PhasePrestart
	}
	if !now.Before(snap.ActiveSlot.EndAt) {
		return PhaseEnded
	}
	return PhaseRunning
}

// serviceBudget divides the slot window evenly across everyone who arrived in
// it, but never below the configured default so a packed slot cannot shrink
// service time to nothing.
func serviceBudget(slot models.Slot, arrivals int, defaultBudget time.Duration) time.Duration {
	if arrivals < 1 {
		arrivals = 1
	}
	budget := slot.EndAt.Sub(slot.StartAt) / time.Duration(arrivals)
	if budget < defaultBudget {
		budget = defaultBudget
	}
	return budget
}

func tokenView(token *models.Token) *TokenView {
	if token == nil {
		return nil
	}
	return &TokenView{
		TokenID:      token.TokenID,
		TokenNumber:  token.TokenNumber,
		CustomerName: token.Customer.Name,
		Status:       token.Status,
	}
}

// Publisher is the fan-out side of the realtime hub.
type Publisher interface {
	Broadcast(payload []byte, sessionID, counterID string)
}

// Synchronizer recomputes and pushes display frames after queue mutations.
// Pushes are best effort: a mutation that committed must never be failed
// because the display could not be refreshed.
type Synchronizer struct {
	sessions      store.SessionStore
	pub           Publisher
	defaultBudget time.Duration
}

func NewSynchronizer(sessions store.SessionStore, pub Publisher, defaultBudget time.Duration) *Synchronizer {
	return &Synchronizer{sessions: sessions, pub: pub, defaultBudget: defaultBudget}
}

func (s *Synchronizer) Compute(ctx context.Context, sessionID, counterID string, now time.Time) (State, error) {
	snap, err := s.sessions.DisplaySnapshot(ctx, sessionID, counterID)
	if err != nil {
		return State{}, err
	}
	return Compute(snap, counterID, now, s.defaultBudget), nil
}

// Push recomputes the frame for one (session, counter) and publishes it.
// Errors are logged and swallowed.
func (s *Synchronizer) Push(ctx context.Context, sessionID, counterID string) {
	state, err := s.Compute(ctx, sessionID, counterID, time.Now().UTC())
	if err != nil {
		log.Printf("display push: compute session=%s counter=%s: %v", sessionID, counterID, err)
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		log.Printf("display push: marshal session=%s counter=%s: %v", sessionID, counterID, err)
		return
	}
	s.pub.Broadcast(payload, sessionID, counterID)
}
