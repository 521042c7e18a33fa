package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	var activeSlotID sql.NullString
	var startedAt sql.NullTime
	var endedAt sql.NullTime
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, branch_id, insurance_type_id, counter_id, service_day, status, active_slot_id, started_at, ended_at
		FROM sessions
		WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.BranchID, &session.InsuranceTypeID, &session.CounterID,
		&session.ServiceDay, &session.Status, &activeSlotID, &startedAt, &endedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	session.ActiveSlotID = nullStringPtr(activeSlotID)
	session.StartedAt = nullTimePtr(startedAt)
	session.EndedAt = nullTimePtr(endedAt)

	rows, err := s.pool.Query(ctx, `
		SELECT slot_id, start_at, end_at, capacity, booked
		FROM session_slots
		WHERE session_id = $1
		ORDER BY start_at ASC
	`, sessionID)
	if err != nil {
		return models.Session{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var slot models.Slot
		if err := rows.Scan(&slot.SlotID, &slot.StartAt, &slot.EndAt, &slot.Capacity, &slot.Booked); err != nil {
			return models.Session{}, err
		}
		session.Slots = append(session.Slots, slot)
	}
	if err := rows.Err(); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// ReserveSlot takes one seat in the slot. The increment is conditional on
// booked < capacity in the same statement, so there is no window in which two
// callers can both read a free seat and both take it.
func (s *Store) ReserveSlot(ctx context.Context, sessionID, slotID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_slots
		SET booked = booked + 1
		WHERE session_id = $1 AND slot_id = $2 AND booked < capacity
	`, sessionID, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifySlotMiss(ctx, sessionID, slotID)
	}
	return nil
}

func reserveSlotTx(ctx context.Context, tx pgx.Tx, sessionID, slotID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE session_slots
		SET booked = booked + 1
		WHERE session_id = $1 AND slot_id = $2 AND booked < capacity
	`, sessionID, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM session_slots WHERE session_id = $1 AND slot_id = $2)
		`, sessionID, slotID)
		if err := row.Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrSlotNotFound
		}
		return store.ErrSlotFull
	}
	return nil
}

// ReleaseSlot gives a seat back. Guarded so booked never drops below zero
// even if callers double-release.
func (s *Store) ReleaseSlot(ctx context.Context, sessionID, slotID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_slots
		SET booked = booked - 1
		WHERE session_id = $1 AND slot_id = $2 AND booked > 0
	`, sessionID, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM session_slots WHERE session_id = $1 AND slot_id = $2)
		`, sessionID, slotID)
		if err := row.Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrSlotNotFound
		}
	}
	return nil
}

func (s *Store) classifySlotMiss(ctx context.Context, sessionID, slotID string) error {
	var exists bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM session_slots WHERE session_id = $1 AND slot_id = $2)
	`, sessionID, slotID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrSlotNotFound
	}
	return store.ErrSlotFull
}

// ApplySessionAction moves the session through its coarse status machine and,
// on every transition, repairs the single-serving invariant for the session's
// counter. A stale serving token from before a crash gets demoted here even
// if no operator ever touches it again.
func (s *Store) ApplySessionAction(ctx context.Context, input store.SessionActionInput) (models.Session, error) {
	toStatus, ok := sessionTargetStatus(input.Action)
	if !ok {
		return models.Session{}, store.ErrInvalidSessionState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Session{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// Only start and end stamp a timestamp, so the extra argument is bound
	// only when the statement references it.
	setClause := ""
	args := []interface{}{input.SessionID, toStatus, sessionAllowedFrom(input.Action)}
	switch input.Action {
	case "start":
		setClause = ", started_at = COALESCE(started_at, $4)"
		args = append(args, occurredAt)
	case "end":
		setClause = ", ended_at = $4"
		args = append(args, occurredAt)
	}
	query := `
		UPDATE sessions
		SET status = $2` + setClause + `
		WHERE session_id = $1 AND status = ANY($3)
		RETURNING session_id, branch_id, insurance_type_id, counter_id, service_day, status, active_slot_id, started_at, ended_at
	`

	var session models.Session
	var activeSlotID sql.NullString
	var startedAt sql.NullTime
	var endedAt sql.NullTime
	row := tx.QueryRow(ctx, query, args...)
	if err = row.Scan(&session.SessionID, &session.BranchID, &session.InsuranceTypeID, &session.CounterID,
		&session.ServiceDay, &session.Status, &activeSlotID, &startedAt, &endedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			checkRow := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, input.SessionID)
			if scanErr := checkRow.Scan(&exists); scanErr != nil {
				err = scanErr
				return models.Session{}, err
			}
			if !exists {
				err = store.ErrSessionNotFound
				return models.Session{}, err
			}
			err = store.ErrInvalidSessionState
			return models.Session{}, err
		}
		return models.Session{}, err
	}
	session.ActiveSlotID = nullStringPtr(activeSlotID)
	session.StartedAt = nullTimePtr(startedAt)
	session.EndedAt = nullTimePtr(endedAt)

	if _, err = demoteStaleServing(ctx, tx, session.SessionID, session.CounterID, occurredAt); err != nil {
		return models.Session{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func sessionTargetStatus(action string) (string, bool) {
	switch action {
	case "start", "resume":
		return models.SessionRunning, true
	case "pause":
		return models.SessionPaused, true
	case "end":
		return models.SessionCompleted, true
	case "cancel":
		return models.SessionCancelled, true
	default:
		return "", false
	}
}

func sessionAllowedFrom(action string) []string {
	switch action {
	case "start":
		return []string{models.SessionScheduled}
	case "pause":
		return []string{models.SessionRunning}
	case "resume":
		return []string{models.SessionPaused}
	case "end":
		return []string{models.SessionRunning, models.SessionPaused}
	case "cancel":
		return []string{models.SessionScheduled}
	default:
		return nil
	}
}

func (s *Store) ActivateSlot(ctx context.Context, sessionID, slotID string) (models.Session, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET active_slot_id = $2
		WHERE session_id = $1
			AND EXISTS (SELECT 1 FROM session_slots WHERE session_id = $1 AND slot_id = $2)
	`, sessionID, slotID)
	if err != nil {
		return models.Session{}, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, sessionID)
		if err := row.Scan(&exists); err != nil {
			return models.Session{}, err
		}
		if !exists {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, store.ErrSlotNotFound
	}
	return s.GetSession(ctx, sessionID)
}

// EnforceSingleServing repairs the "at most one serving token per (session,
// counter)" invariant: the most recently started token keeps serving, every
// other one is sent back to waiting with a fresh arrival stamp. Idempotent;
// returns how many tokens were demoted.
func (s *Store) EnforceSingleServing(ctx context.Context, sessionID, counterID string) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	demoted, err := demoteStaleServing(ctx, tx, sessionID, counterID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return demoted, nil
}

func demoteStaleServing(ctx context.Context, tx pgx.Tx, sessionID, counterID string, now time.Time) (int, error) {
	rows, err := tx.Query(ctx, `
		WITH serving AS (
			SELECT token_id, service_start_at
			FROM tokens
			WHERE session_id = $1 AND counter_id = $2 AND status = 'serving'
			FOR UPDATE
		), keeper AS (
			SELECT token_id
			FROM serving
			ORDER BY service_start_at DESC NULLS LAST, token_id
			LIMIT 1
		)
		UPDATE tokens
		SET status = 'waiting',
			counter_id = NULL,
			arrived_at = $3
		FROM serving
		WHERE tokens.token_id = serving.token_id
			AND tokens.token_id NOT IN (SELECT token_id FROM keeper)
		RETURNING `+prefixedTokenColumns("tokens"), sessionID, counterID, now)
	if err != nil {
		return 0, err
	}

	var demoted []models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		demoted = append(demoted, token)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, token := range demoted {
		if err := insertTokenEvent(ctx, tx, token, "return_to_waiting", "system", "automatic recovery: duplicate serving token"); err != nil {
			return 0, err
		}
	}
	return len(demoted), nil
}

// ListServingPairs feeds the periodic sweep: every (session, counter) that
// currently has at least one serving token.
func (s *Store) ListServingPairs(ctx context.Context) ([]store.ServingPair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT session_id, counter_id
		FROM tokens
		WHERE status = 'serving' AND counter_id IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []store.ServingPair
	for rows.Next() {
		var pair store.ServingPair
		if err := rows.Scan(&pair.SessionID, &pair.CounterID); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// DisplaySnapshot gathers everything the display projection needs in plain
// reads; no locks, no writes.
func (s *Store) DisplaySnapshot(ctx context.Context, sessionID, counterID string) (store.DisplaySnapshot, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return store.DisplaySnapshot{}, err
	}

	snapshot := store.DisplaySnapshot{Session: session}
	if session.ActiveSlotID != nil {
		for i := range session.Slots {
			if session.Slots[i].SlotID == *session.ActiveSlotID {
				snapshot.ActiveSlot = &session.Slots[i]
				break
			}
		}
	}

	serving, found, err := s.latestTokenFor(ctx, sessionID, counterID, models.StatusServing, "service_start_at")
	if err != nil {
		return store.DisplaySnapshot{}, err
	}
	if found {
		snapshot.Serving = &serving
	}

	called, found, err := s.latestTokenFor(ctx, sessionID, counterID, models.StatusCalled, "first_called_at")
	if err != nil {
		return store.DisplaySnapshot{}, err
	}
	if found {
		snapshot.LastCalled = &called
	}

	activeSlotID := ""
	if session.ActiveSlotID != nil {
		activeSlotID = *session.ActiveSlotID
	}
	waiting, err := s.ListWaiting(ctx, sessionID, activeSlotID)
	if err != nil {
		return store.DisplaySnapshot{}, err
	}
	snapshot.WaitingCount = len(waiting)
	if len(waiting) > 0 {
		next := waiting[0]
		snapshot.NextWaiting = &next
	}

	if activeSlotID != "" {
		row := s.pool.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM tokens
			WHERE session_id = $1 AND slot_id = $2
		`, sessionID, activeSlotID)
		if err := row.Scan(&snapshot.ArrivedInSlot); err != nil {
			return store.DisplaySnapshot{}, err
		}
	}
	return snapshot, nil
}

func (s *Store) latestTokenFor(ctx context.Context, sessionID, counterID, status, orderColumn string) (models.Token, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE session_id = $1 AND counter_id = $2 AND status = $3
		ORDER BY `+orderColumn+` DESC NULLS LAST
		LIMIT 1
	`, sessionID, counterID, status)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	return token, true, nil
}
