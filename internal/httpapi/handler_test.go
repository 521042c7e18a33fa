package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"iqms/queue-service/internal/display"
	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"
)

type fakeTokens struct {
	registerFn func(ctx context.Context, input store.RegisterWalkInInput) (models.Token, bool, error)
	checkInFn  func(ctx context.Context, input store.CheckInInput) (models.Token, bool, error)
	getFn      func(ctx context.Context, tokenID string) (models.Token, error)
	listFn     func(ctx context.Context, sessionID, slotID string) ([]models.Token, error)
	popFn      func(ctx context.Context, input store.PopNextInput) (models.Token, bool, error)
	recallFn   func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error)
	startFn    func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error)
	endFn      func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error)
	skipFn     func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error)
	noShowFn   func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error)
	transferFn func(ctx context.Context, input store.TransferInput) (models.Token, bool, error)
	returnFn   func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error)
	eventsFn   func(ctx context.Context, tokenID string) ([]store.TokenEvent, error)
}

func (f fakeTokens) RegisterWalkIn(ctx context.Context, input store.RegisterWalkInInput) (models.Token, bool, error) {
	if f.registerFn == nil {
		return models.Token{}, false, nil
	}
	return f.registerFn(ctx, input)
}

func (f fakeTokens) CheckInAppointment(ctx context.Context, input store.CheckInInput) (models.Token, bool, error) {
	if f.checkInFn == nil {
		return models.Token{}, false, nil
	}
	return f.checkInFn(ctx, input)
}

func (f fakeTokens) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	if f.getFn == nil {
		return models.Token{}, store.ErrTokenNotFound
	}
	return f.getFn(ctx, tokenID)
}

func (f fakeTokens) ListWaiting(ctx context.Context, sessionID, slotID string) ([]models.Token, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, sessionID, slotID)
}

func (f fakeTokens) PopNextWaiting(ctx context.Context, input store.PopNextInput) (models.Token, bool, error) {
	if f.popFn == nil {
		return models.Token{}, false, store.ErrNoToken
	}
	return f.popFn(ctx, input)
}

func (f fakeTokens) RecallToken(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	if f.recallFn == nil {
		return models.Token{}, false, nil
	}
	return f.recallFn(ctx, input)
}

func (f fakeTokens) StartService(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	if f.startFn == nil {
		return models.Token{}, false, nil
	}
	return f.startFn(ctx, input)
}

func (f fakeTokens) EndService(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	if f.endFn == nil {
		return models.Token{}, false, nil
	}
	return f.endFn(ctx, input)
}

func (f fakeTokens) SkipToken(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	if f.skipFn == nil {
		return models.Token{}, false, nil
	}
	return f.skipFn(ctx, input)
}

func (f fakeTokens) NoShowToken(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	if f.noShowFn == nil {
		return models.Token{}, false, nil
	}
	return f.noShowFn(ctx, input)
}

func (f fakeTokens) TransferToken(ctx context.Context, input store.TransferInput) (models.Token, bool, error) {
	if f.transferFn == nil {
		return models.Token{}, false, nil
	}
	return f.transferFn(ctx, input)
}

func (f fakeTokens) ReturnToWaiting(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	if f.returnFn == nil {
		return models.Token{}, false, nil
	}
	return f.returnFn(ctx, input)
}

func (f fakeTokens) ListTokenEvents(ctx context.Context, tokenID string) ([]store.TokenEvent, error) {
	if f.eventsFn == nil {
		return nil, nil
	}
	return f.eventsFn(ctx, tokenID)
}

type fakeSessions struct {
	getFn      func(ctx context.Context, sessionID string) (models.Session, error)
	applyFn    func(ctx context.Context, input store.SessionActionInput) (models.Session, error)
	activateFn func(ctx context.Context, sessionID, slotID string) (models.Session, error)
	snapshotFn func(ctx context.Context, sessionID, counterID string) (store.DisplaySnapshot, error)
}

func (f fakeSessions) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	if f.getFn == nil {
		return models.Session{}, store.ErrSessionNotFound
	}
	return f.getFn(ctx, sessionID)
}

func (f fakeSessions) ReserveSlot(ctx context.Context, sessionID, slotID string) error {
	return nil
}

func (f fakeSessions) ReleaseSlot(ctx context.Context, sessionID, slotID string) error {
	return nil
}

func (f fakeSessions) ApplySessionAction(ctx context.Context, input store.SessionActionInput) (models.Session, error) {
	if f.applyFn == nil {
		return models.Session{}, store.ErrSessionNotFound
	}
	return f.applyFn(ctx, input)
}

func (f fakeSessions) ActivateSlot(ctx context.Context, sessionID, slotID string) (models.Session, error) {
	if f.activateFn == nil {
		return models.Session{}, store.ErrSessionNotFound
	}
	return f.activateFn(ctx, sessionID, slotID)
}

func (f fakeSessions) EnforceSingleServing(ctx context.Context, sessionID, counterID string) (int, error) {
	return 0, nil
}

func (f fakeSessions) ListServingPairs(ctx context.Context) ([]store.ServingPair, error) {
	return nil, nil
}

func (f fakeSessions) DisplaySnapshot(ctx context.Context, sessionID, counterID string) (store.DisplaySnapshot, error) {
	if f.snapshotFn == nil {
		return store.DisplaySnapshot{}, store.ErrSessionNotFound
	}
	return f.snapshotFn(ctx, sessionID, counterID)
}

type fakeMessages struct {
	enqueueFn func(ctx context.Context, input store.EnqueueMessageInput) (models.OutboundMessage, error)
	getFn     func(ctx context.Context, messageID string) (models.OutboundMessage, error)
	listFn    func(ctx context.Context, status string, limit int) ([]models.OutboundMessage, error)
}

func (f fakeMessages) EnqueueMessage(ctx context.Context, input store.EnqueueMessageInput) (models.OutboundMessage, error) {
	if f.enqueueFn == nil {
		return models.OutboundMessage{}, nil
	}
	return f.enqueueFn(ctx, input)
}

func (f fakeMessages) ClaimMessage(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error) {
	return models.OutboundMessage{}, false, nil
}

func (f fakeMessages) MarkMessageSent(ctx context.Context, messageID, providerResponse string) error {
	return nil
}

func (f fakeMessages) MarkMessageRetrying(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	return nil
}

func (f fakeMessages) MarkMessageFailed(ctx context.Context, messageID string, attempts int, lastError string) error {
	return nil
}

func (f fakeMessages) GetMessage(ctx context.Context, messageID string) (models.OutboundMessage, error) {
	if f.getFn == nil {
		return models.OutboundMessage{}, store.ErrMessageNotFound
	}
	return f.getFn(ctx, messageID)
}

func (f fakeMessages) ListMessages(ctx context.Context, status string, limit int) ([]models.OutboundMessage, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, status, limit)
}

type nopPublisher struct{}

func (nopPublisher) Broadcast(payload []byte, sessionID, counterID string) {}

func newTestHandler(tokens fakeTokens, sessions fakeSessions, messages fakeMessages) *Handler {
	sync := display.NewSynchronizer(sessions, nopPublisher{}, 5*time.Minute)
	return NewHandler(tokens, sessions, messages, sync)
}

const (
	testRequestID = "11111111-1111-1111-1111-111111111111"
	testSessionID = "22222222-2222-2222-2222-222222222222"
	testSlotID    = "33333333-3333-3333-3333-333333333333"
	testCounterID = "44444444-4444-4444-4444-444444444444"
	testTokenID   = "55555555-5555-5555-5555-555555555555"
)

func postJSON(t *testing.T, h *Handler, path string, payload map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func TestRegisterWalkInSuccess(t *testing.T) {
	tokens := fakeTokens{
		registerFn: func(ctx context.Context, input store.RegisterWalkInInput) (models.Token, bool, error) {
			if input.SessionID != testSessionID || input.SlotID != testSlotID {
				t.Fatalf("scope not forwarded: %+v", input)
			}
			return models.Token{
				TokenID:     testTokenID,
				TokenNumber: "A-001",
				SessionID:   input.SessionID,
				Status:      models.StatusWaiting,
				Customer:    input.Customer,
			}, true, nil
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens", map[string]string{
		"request_id":           testRequestID,
		"session_id":           testSessionID,
		"slot_id":              testSlotID,
		"customer_name":        "Siti Rahma",
		"customer_national_id": "3171012345678901",
		"customer_phone":       "081234567890",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var token models.Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if token.TokenNumber != "A-001" {
		t.Fatalf("token number missing: %+v", token)
	}
}

func TestRegisterWalkInMissingFields(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens", map[string]string{
		"request_id": testRequestID,
		"session_id": testSessionID,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestRegisterWalkInSlotFull(t *testing.T) {
	tokens := fakeTokens{
		registerFn: func(ctx context.Context, input store.RegisterWalkInInput) (models.Token, bool, error) {
			return models.Token{}, false, store.ErrSlotFull
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens", map[string]string{
		"request_id":           testRequestID,
		"session_id":           testSessionID,
		"slot_id":              testSlotID,
		"customer_name":        "Siti Rahma",
		"customer_national_id": "3171012345678901",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "slot_full" {
		t.Fatalf("expected slot_full, got %s", errResp.Error.Code)
	}
}

func TestPopNextEmptyQueue(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens/actions/pop-next", map[string]string{
		"request_id": testRequestID,
		"session_id": testSessionID,
		"counter_id": testCounterID,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on empty queue, got %d", resp.Code)
	}

	var result popNextResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Assigned {
		t.Fatalf("expected assigned=false")
	}
}

func TestPopNextSuccess(t *testing.T) {
	counterID := testCounterID
	tokens := fakeTokens{
		popFn: func(ctx context.Context, input store.PopNextInput) (models.Token, bool, error) {
			return models.Token{
				TokenID:     testTokenID,
				TokenNumber: "A-002",
				Status:      models.StatusCalled,
				CounterID:   &counterID,
			}, true, nil
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens/actions/pop-next", map[string]string{
		"request_id": testRequestID,
		"session_id": testSessionID,
		"counter_id": testCounterID,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var result popNextResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Assigned {
		t.Fatalf("expected assigned=true")
	}
}

func TestStartServiceInvalidState(t *testing.T) {
	tokens := fakeTokens{
		startFn: func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
			return models.Token{}, false, store.ErrInvalidState
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens/"+testTokenID+"/actions/start", map[string]string{
		"request_id": testRequestID,
		"session_id": testSessionID,
		"counter_id": testCounterID,
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "invalid_state" {
		t.Fatalf("expected invalid_state, got %s", errResp.Error.Code)
	}
}

func TestEndServiceCounterMismatch(t *testing.T) {
	tokens := fakeTokens{
		endFn: func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
			return models.Token{}, false, store.ErrCounterMismatch
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens/"+testTokenID+"/actions/end", map[string]string{
		"request_id": testRequestID,
		"session_id": testSessionID,
		"counter_id": testCounterID,
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestCounterScopedActionsRequireCounter(t *testing.T) {
	called := false
	tokens := fakeTokens{
		startFn: func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
			called = true
			return models.Token{}, true, nil
		},
		endFn: func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
			called = true
			return models.Token{}, true, nil
		},
		recallFn: func(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
			called = true
			return models.Token{}, true, nil
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	for _, action := range []string{"recall", "start", "end"} {
		resp := postJSON(t, h, "/api/tokens/"+testTokenID+"/actions/"+action, map[string]string{
			"request_id": testRequestID,
			"session_id": testSessionID,
		})
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s without counter_id: expected 400, got %d", action, resp.Code)
		}
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if errResp.Error.Code != "invalid_request" {
			t.Fatalf("%s without counter_id: expected invalid_request, got %s", action, errResp.Error.Code)
		}
	}
	if called {
		t.Fatalf("store reached despite missing counter_id")
	}
}

func TestTransferRequiresToCounter(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens/"+testTokenID+"/actions/transfer", map[string]string{
		"request_id": testRequestID,
		"session_id": testSessionID,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestTransferSuccess(t *testing.T) {
	var gotInput store.TransferInput
	tokens := fakeTokens{
		transferFn: func(ctx context.Context, input store.TransferInput) (models.Token, bool, error) {
			gotInput = input
			return models.Token{TokenID: input.TokenID, Status: models.StatusWaiting, TransferCount: 1}, true, nil
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	toCounter := "66666666-6666-6666-6666-666666666666"
	resp := postJSON(t, h, "/api/tokens/"+testTokenID+"/actions/transfer", map[string]string{
		"request_id":    testRequestID,
		"session_id":    testSessionID,
		"to_counter_id": toCounter,
		"by_counter_id": testCounterID,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if gotInput.ToCounterID != toCounter || gotInput.ByCounterID != testCounterID {
		t.Fatalf("counters not forwarded: %+v", gotInput)
	}
}

func TestGetTokenNotFound(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/"+testTokenID, nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestUnknownTokenAction(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/tokens/"+testTokenID+"/actions/promote", map[string]string{
		"request_id": testRequestID,
		"session_id": testSessionID,
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSessionActionSuccess(t *testing.T) {
	sessions := fakeSessions{
		applyFn: func(ctx context.Context, input store.SessionActionInput) (models.Session, error) {
			if input.Action != "start" {
				t.Fatalf("action not forwarded: %s", input.Action)
			}
			return models.Session{SessionID: input.SessionID, CounterID: testCounterID, Status: models.SessionRunning}, nil
		},
		snapshotFn: func(ctx context.Context, sessionID, counterID string) (store.DisplaySnapshot, error) {
			return store.DisplaySnapshot{Session: models.Session{SessionID: sessionID, Status: models.SessionRunning}}, nil
		},
	}
	h := newTestHandler(fakeTokens{}, sessions, fakeMessages{})

	resp := postJSON(t, h, "/api/sessions/"+testSessionID+"/actions/start", map[string]string{
		"actor": "supervisor",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestSessionActionInvalidTransition(t *testing.T) {
	sessions := fakeSessions{
		applyFn: func(ctx context.Context, input store.SessionActionInput) (models.Session, error) {
			return models.Session{}, store.ErrInvalidSessionState
		},
	}
	h := newTestHandler(fakeTokens{}, sessions, fakeMessages{})

	resp := postJSON(t, h, "/api/sessions/"+testSessionID+"/actions/resume", map[string]string{})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestSessionUnknownAction(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	resp := postJSON(t, h, "/api/sessions/"+testSessionID+"/actions/reopen", map[string]string{})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDisplayEndpoint(t *testing.T) {
	slotStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sessions := fakeSessions{
		snapshotFn: func(ctx context.Context, sessionID, counterID string) (store.DisplaySnapshot, error) {
			slot := models.Slot{SlotID: testSlotID, StartAt: slotStart, EndAt: slotStart.Add(time.Hour), Capacity: 10, Booked: 3}
			return store.DisplaySnapshot{
				Session:      models.Session{SessionID: sessionID, Status: models.SessionRunning},
				ActiveSlot:   &slot,
				WaitingCount: 3,
			}, nil
		},
	}
	h := newTestHandler(fakeTokens{}, sessions, fakeMessages{})

	req := httptest.NewRequest(http.MethodGet, "/api/display?session_id="+testSessionID+"&counter_id="+testCounterID, nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var state display.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if state.WaitingCount != 3 {
		t.Fatalf("waiting count not rendered: %+v", state)
	}
}

func TestEnqueueMessageAccepted(t *testing.T) {
	messages := fakeMessages{
		enqueueFn: func(ctx context.Context, input store.EnqueueMessageInput) (models.OutboundMessage, error) {
			return models.OutboundMessage{MessageID: testTokenID, Destination: input.Destination, Status: models.MessageQueued}, nil
		},
	}
	h := newTestHandler(fakeTokens{}, fakeSessions{}, messages)

	resp := postJSON(t, h, "/api/messages", map[string]string{
		"destination": "081234567890",
		"body":        "Nomor antrean Anda segera dipanggil.",
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
}

func TestListMessagesFiltersByStatus(t *testing.T) {
	var gotStatus string
	var gotLimit int
	messages := fakeMessages{
		listFn: func(ctx context.Context, status string, limit int) ([]models.OutboundMessage, error) {
			gotStatus = status
			gotLimit = limit
			return []models.OutboundMessage{{MessageID: testTokenID, Status: status}}, nil
		},
	}
	h := newTestHandler(fakeTokens{}, fakeSessions{}, messages)

	req := httptest.NewRequest(http.MethodGet, "/api/messages?status=failed&limit=10", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if gotStatus != models.MessageFailed || gotLimit != 10 {
		t.Fatalf("filter not forwarded: status=%q limit=%d", gotStatus, gotLimit)
	}

	var listed []models.OutboundMessage
	if err := json.Unmarshal(resp.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(listed))
	}
}

func TestListMessagesRejectsUnknownStatus(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	req := httptest.NewRequest(http.MethodGet, "/api/messages?status=bogus", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestQueueListing(t *testing.T) {
	tokens := fakeTokens{
		listFn: func(ctx context.Context, sessionID, slotID string) ([]models.Token, error) {
			return []models.Token{{TokenID: testTokenID, TokenNumber: "A-001"}}, nil
		},
	}
	h := newTestHandler(tokens, fakeSessions{}, fakeMessages{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue?session_id="+testSessionID, nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(fakeTokens{}, fakeSessions{}, fakeMessages{})

	req := httptest.NewRequest(http.MethodGet, "/api/tokens/actions/pop-next", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
