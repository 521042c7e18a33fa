package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"iqms/queue-service/internal/display"
	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	tokens   store.TokenStore
	sessions store.SessionStore
	messages store.MessageStore
	sync     *display.Synchronizer
}

func NewHandler(tokens store.TokenStore, sessions store.SessionStore, messages store.MessageStore, sync *display.Synchronizer) *Handler {
	return &Handler{
		tokens:   tokens,
		sessions: sessions,
		messages: messages,
		sync:     sync,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleRegisterWalkIn)
	mux.HandleFunc("/api/tokens/actions/pop-next", h.handlePopNext)
	mux.HandleFunc("/api/tokens/", h.handleTokenSubtree)
	mux.HandleFunc("/api/appointments/checkin", h.handleAppointmentCheckin)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/sessions/", h.handleSessionSubtree)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/messages", h.handleEnqueueMessage)
	mux.HandleFunc("/api/messages/", h.handleGetMessage)
	return mux
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type registerRequest struct {
	RequestID          string `json:"request_id"`
	SessionID          string `json:"session_id"`
	SlotID             string `json:"slot_id"`
	CustomerName       string `json:"customer_name"`
	CustomerNationalID string `json:"customer_national_id"`
	CustomerPhone      string `json:"customer_phone"`
	PriorityClass      string `json:"priority_class"`
}

func (h *Handler) handleRegisterWalkIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.SlotID = strings.TrimSpace(req.SlotID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerNationalID = strings.TrimSpace(req.CustomerNationalID)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.PriorityClass = strings.TrimSpace(req.PriorityClass)

	if req.RequestID == "" || req.SessionID == "" || req.SlotID == "" || req.CustomerName == "" || req.CustomerNationalID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, session_id, slot_id, customer_name, and customer_national_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.SessionID) || !isValidUUID(req.SlotID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, session_id, and slot_id must be UUIDs")
		return
	}
	if req.CustomerPhone != "" && !isValidPhone(req.CustomerPhone) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "customer_phone must be 8-16 digits")
		return
	}
	if req.PriorityClass == "" {
		req.PriorityClass = "regular"
	}

	token, _, err := h.tokens.RegisterWalkIn(r.Context(), store.RegisterWalkInInput{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		SlotID:    req.SlotID,
		Customer: models.CustomerSnapshot{
			Name:       req.CustomerName,
			NationalID: req.CustomerNationalID,
			Phone:      req.CustomerPhone,
		},
		PriorityClass: req.PriorityClass,
		ArrivedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	h.pushToCounter(r, token.SessionID, token.CounterID)
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleAppointmentCheckin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		RequestID     string `json:"request_id"`
		BranchID      string `json:"branch_id"`
		AppointmentID string `json:"appointment_id"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, payload.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	payload.RequestID = strings.TrimSpace(payload.RequestID)
	payload.BranchID = strings.TrimSpace(payload.BranchID)
	payload.AppointmentID = strings.TrimSpace(payload.AppointmentID)
	if payload.RequestID == "" || payload.BranchID == "" || payload.AppointmentID == "" {
		writeError(w, payload.RequestID, http.StatusBadRequest, "invalid_request", "request_id, branch_id, and appointment_id are required")
		return
	}
	if !isValidUUID(payload.RequestID) || !isValidUUID(payload.BranchID) || !isValidUUID(payload.AppointmentID) {
		writeError(w, payload.RequestID, http.StatusBadRequest, "invalid_request", "ids must be UUIDs")
		return
	}

	token, _, err := h.tokens.CheckInAppointment(r.Context(), store.CheckInInput{
		RequestID:     payload.RequestID,
		BranchID:      payload.BranchID,
		AppointmentID: payload.AppointmentID,
		ArrivedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, payload.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

type popNextRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	CounterID string `json:"counter_id"`
	SlotID    string `json:"slot_id"`
	Actor     string `json:"actor"`
}

type popNextResponse struct {
	Assigned bool        `json:"assigned"`
	Token    interface{} `json:"token,omitempty"`
}

func (h *Handler) handlePopNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req popNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.CounterID = strings.TrimSpace(req.CounterID)
	req.SlotID = strings.TrimSpace(req.SlotID)
	req.Actor = strings.TrimSpace(req.Actor)

	if req.RequestID == "" || req.SessionID == "" || req.CounterID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, session_id, and counter_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.SessionID) || !isValidUUID(req.CounterID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, session_id, and counter_id must be UUIDs")
		return
	}
	if req.SlotID != "" && !isValidUUID(req.SlotID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "slot_id must be a UUID when provided")
		return
	}

	token, _, err := h.tokens.PopNextWaiting(r.Context(), store.PopNextInput{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		CounterID: req.CounterID,
		SlotID:    req.SlotID,
		Actor:     req.Actor,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNoToken) {
			// An empty queue is an answer, not a failure.
			writeJSON(w, http.StatusOK, popNextResponse{Assigned: false})
			return
		}
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	h.push(r, req.SessionID, req.CounterID)
	writeJSON(w, http.StatusOK, popNextResponse{Assigned: true, Token: token})
}

func (h *Handler) handleTokenSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tokens/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetToken(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "events":
		h.handleTokenEvents(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTokenAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetToken(w http.ResponseWriter, r *http.Request, tokenID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(tokenID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	token, err := h.tokens.GetToken(r.Context(), tokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleTokenEvents(w http.ResponseWriter, r *http.Request, tokenID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(tokenID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	events, err := h.tokens.ListTokenEvents(r.Context(), tokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type tokenActionRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	CounterID string `json:"counter_id"`
	Actor     string `json:"actor"`
	Note      string `json:"note"`
}

type transferRequest struct {
	RequestID   string `json:"request_id"`
	SessionID   string `json:"session_id"`
	ToCounterID string `json:"to_counter_id"`
	ByCounterID string `json:"by_counter_id"`
	Actor       string `json:"actor"`
	Note        string `json:"note"`
}

func (h *Handler) handleTokenAction(w http.ResponseWriter, r *http.Request, tokenID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(tokenID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	if action == "transfer" {
		h.handleTransfer(w, r, tokenID)
		return
	}

	var req tokenActionRequest
	if !decodeActionRequest(w, r, &req) {
		return
	}

	// recall, start, and end act at a specific counter.
	switch action {
	case "recall", "start", "end":
		if req.CounterID == "" {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "counter_id is required for this action")
			return
		}
	}

	input := store.TokenActionInput{
		RequestID:  req.RequestID,
		TokenID:    tokenID,
		SessionID:  req.SessionID,
		CounterID:  req.CounterID,
		Actor:      req.Actor,
		Note:       req.Note,
		OccurredAt: time.Now().UTC(),
	}

	var op func() (interface{}, error)
	priorCounter := ""
	switch action {
	case "recall":
		op = func() (interface{}, error) {
			token, _, err := h.tokens.RecallToken(r.Context(), input)
			return token, err
		}
	case "start":
		op = func() (interface{}, error) {
			token, _, err := h.tokens.StartService(r.Context(), input)
			return token, err
		}
	case "end":
		op = func() (interface{}, error) {
			token, _, err := h.tokens.EndService(r.Context(), input)
			return token, err
		}
	case "skip":
		op = func() (interface{}, error) {
			token, _, err := h.tokens.SkipToken(r.Context(), input)
			return token, err
		}
	case "no-show":
		op = func() (interface{}, error) {
			token, _, err := h.tokens.NoShowToken(r.Context(), input)
			return token, err
		}
	case "return":
		// The token loses its counter on return, so remember the counter it
		// leaves for the display push.
		if prior, err := h.tokens.GetToken(r.Context(), tokenID); err == nil && prior.CounterID != nil {
			priorCounter = *prior.CounterID
		}
		op = func() (interface{}, error) {
			token, _, err := h.tokens.ReturnToWaiting(r.Context(), input)
			return token, err
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	result, err := op()
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	counter := req.CounterID
	if action == "return" && priorCounter != "" {
		counter = priorCounter
	}
	if counter != "" {
		h.push(r, req.SessionID, counter)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request, tokenID string) {
	var req transferRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ToCounterID = strings.TrimSpace(req.ToCounterID)
	req.ByCounterID = strings.TrimSpace(req.ByCounterID)
	req.Actor = strings.TrimSpace(req.Actor)

	if req.RequestID == "" || req.SessionID == "" || req.ToCounterID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, session_id, and to_counter_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.SessionID) || !isValidUUID(req.ToCounterID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, session_id, and to_counter_id must be UUIDs")
		return
	}
	if req.ByCounterID != "" && !isValidUUID(req.ByCounterID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "by_counter_id must be a UUID when provided")
		return
	}

	token, _, err := h.tokens.TransferToken(r.Context(), store.TransferInput{
		RequestID:   req.RequestID,
		TokenID:     tokenID,
		SessionID:   req.SessionID,
		ToCounterID: req.ToCounterID,
		ByCounterID: req.ByCounterID,
		Actor:       req.Actor,
		Note:        req.Note,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	// Both counters see their queue change.
	if req.ByCounterID != "" {
		h.push(r, req.SessionID, req.ByCounterID)
	}
	h.push(r, req.SessionID, req.ToCounterID)
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	slotID := strings.TrimSpace(r.URL.Query().Get("slot_id"))
	if sessionID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}
	if slotID != "" && !isValidUUID(slotID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "slot_id must be a UUID when provided")
		return
	}

	tokens, err := h.tokens.ListWaiting(r.Context(), sessionID, slotID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetSession(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleSessionAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type sessionActionRequest struct {
	Actor  string `json:"actor"`
	SlotID string `json:"slot_id"`
}

func (h *Handler) handleSessionAction(w http.ResponseWriter, r *http.Request, sessionID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	var req sessionActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if action == "activate-slot" {
		req.SlotID = strings.TrimSpace(req.SlotID)
		if req.SlotID == "" || !isValidUUID(req.SlotID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "slot_id must be a UUID")
			return
		}
		session, err := h.sessions.ActivateSlot(r.Context(), sessionID, req.SlotID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		h.push(r, sessionID, session.CounterID)
		writeJSON(w, http.StatusOK, session)
		return
	}

	if !store.ValidSessionAction(action) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	session, err := h.sessions.ApplySessionAction(r.Context(), store.SessionActionInput{
		SessionID:  sessionID,
		Action:     action,
		Actor:      strings.TrimSpace(req.Actor),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	h.push(r, sessionID, session.CounterID)
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	counterID := strings.TrimSpace(r.URL.Query().Get("counter_id"))
	if sessionID == "" || counterID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id and counter_id are required")
		return
	}
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	state, err := h.sync.Compute(r.Context(), sessionID, counterID, time.Now().UTC())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type enqueueMessageRequest struct {
	Destination string `json:"destination"`
	Body        string `json:"body"`
	Kind        string `json:"kind"`
	TokenID     string `json:"token_id"`
}

func (h *Handler) handleEnqueueMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.handleListMessages(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req enqueueMessageRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Destination = strings.TrimSpace(req.Destination)
	req.TokenID = strings.TrimSpace(req.TokenID)
	if req.Destination == "" || req.Body == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "destination and body are required")
		return
	}
	if req.TokenID != "" && !isValidUUID(req.TokenID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "token_id must be a UUID when provided")
		return
	}

	message, err := h.messages.EnqueueMessage(r.Context(), store.EnqueueMessageInput{
		Destination: req.Destination,
		Body:        req.Body,
		Kind:        strings.TrimSpace(req.Kind),
		TokenID:     req.TokenID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, message)
}

var validMessageStatuses = map[string]bool{
	models.MessageQueued:     true,
	models.MessageProcessing: true,
	models.MessageSent:       true,
	models.MessageRetrying:   true,
	models.MessageFailed:     true,
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !validMessageStatuses[status] {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown message status")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages, err := h.messages.ListMessages(r.Context(), status, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if messages == nil {
		messages = []models.OutboundMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	messageID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/messages/"), "/")
	if !isValidUUID(messageID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "message_id must be a UUID")
		return
	}

	message, err := h.messages.GetMessage(r.Context(), messageID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, message)
}

func decodeActionRequest(w http.ResponseWriter, r *http.Request, req *tokenActionRequest) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.CounterID = strings.TrimSpace(req.CounterID)
	req.Actor = strings.TrimSpace(req.Actor)

	if req.RequestID == "" || req.SessionID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and session_id are required")
		return false
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.SessionID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and session_id must be UUIDs")
		return false
	}
	if req.CounterID != "" && !isValidUUID(req.CounterID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "counter_id must be a UUID when provided")
		return false
	}
	return true
}

// push refreshes the counter display after a mutation. Best effort.
func (h *Handler) push(r *http.Request, sessionID, counterID string) {
	if h.sync == nil {
		return
	}
	h.sync.Push(r.Context(), sessionID, counterID)
}

func (h *Handler) pushToCounter(r *http.Request, sessionID string, counterID *string) {
	if counterID == nil {
		return
	}
	h.push(r, sessionID, *counterID)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "session not found"
	case errors.Is(err, store.ErrSlotNotFound):
		return http.StatusNotFound, "slot_not_found", "slot not found"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrInsuranceTypeNotFound):
		return http.StatusNotFound, "insurance_type_not_found", "insurance type not found"
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found", "branch not found"
	case errors.Is(err, store.ErrMessageNotFound):
		return http.StatusNotFound, "message_not_found", "message not found"
	case errors.Is(err, store.ErrSlotFull):
		return http.StatusConflict, "slot_full", "slot capacity exhausted"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "token state does not allow this action"
	case errors.Is(err, store.ErrInvalidSessionState):
		return http.StatusConflict, "invalid_session_state", "session state does not allow this action"
	case errors.Is(err, store.ErrCounterMismatch):
		return http.StatusConflict, "counter_mismatch", "token assigned to different counter"
	case errors.Is(err, store.ErrNumberConflict):
		return http.StatusConflict, "number_conflict", "duplicate token number"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
