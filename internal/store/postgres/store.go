package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const tokenColumns = `token_id, token_number, session_id, branch_id, insurance_type_id, slot_id, service_day, origin, appointment_id,
	customer_name, customer_national_id, customer_phone, priority_class, status, counter_id,
	arrived_at, first_called_at, service_start_at, ended_at, skip_count, transfer_count`

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE token_id = $1
	`, tokenID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) ListWaiting(ctx context.Context, sessionID, slotID string) ([]models.Token, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM tokens
		WHERE session_id = $1 AND status = 'waiting'
	`
	args := []interface{}{sessionID}
	if slotID != "" {
		query += " AND slot_id = $2"
		args = append(args, slotID)
	}
	query += " ORDER BY arrived_at ASC, token_seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// PopNextWaiting claims the oldest waiting token for the session (optionally
// slot-scoped) and marks it called at the counter. The SKIP LOCKED select
// keeps two counters from calling the same token.
func (s *Store) PopNextWaiting(ctx context.Context, input store.PopNextInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, "pop_next", input.RequestID)
	if err != nil {
		return models.Token{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		if empty {
			return models.Token{}, false, store.ErrNoToken
		}
		return existing, false, nil
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	slotFilter := ""
	args := []interface{}{input.SessionID, input.CounterID, calledAt}
	if input.SlotID != "" {
		slotFilter = " AND slot_id = $4"
		args = append(args, input.SlotID)
	}

	row := tx.QueryRow(ctx, `
		WITH next_token AS (
			SELECT token_id
			FROM tokens
			WHERE session_id = $1 AND status = 'waiting'`+slotFilter+`
			ORDER BY arrived_at ASC, token_seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tokens
		SET status = 'called',
			counter_id = $2,
			first_called_at = COALESCE(first_called_at, $3)
		FROM next_token
		WHERE tokens.token_id = next_token.token_id
		RETURNING `+tokenColumns, args...)

	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = insertActionRequest(ctx, tx, "pop_next", input.RequestID, input.SessionID, input.CounterID, ""); err != nil {
				return models.Token{}, false, err
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Token{}, false, err
			}
			return models.Token{}, false, store.ErrNoToken
		}
		return models.Token{}, false, err
	}
	token.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, "pop_next", input.RequestID, input.SessionID, input.CounterID, token.TokenID); err != nil {
		return models.Token{}, false, err
	}
	if err = insertTokenEvent(ctx, tx, token, "pop_next", input.Actor, ""); err != nil {
		return models.Token{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

// RecallToken re-announces a called token at a counter. Arrival order is left
// untouched.
func (s *Store) RecallToken(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	return s.applyTokenAction(ctx, input, "recall",
		[]string{models.StatusCalled}, true, `
		UPDATE tokens
		SET counter_id = $3
		WHERE token_id = $1 AND session_id = $2 AND status = 'called'
		RETURNING `+tokenColumns,
		input.TokenID, input.SessionID, input.CounterID)
}

// StartService moves a token to serving and stamps service_start_at. The
// single-serving repair for the (session, counter) pair runs inside the same
// transaction, so at commit exactly one token is serving there.
func (s *Store) StartService(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, "start_service", input.RequestID)
	if err != nil {
		return models.Token{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		if empty {
			return models.Token{}, false, store.ErrInvalidState
		}
		return existing, false, nil
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE tokens
		SET status = 'serving',
			counter_id = $4,
			service_start_at = $3
		WHERE token_id = $1 AND session_id = $2 AND status IN ('called', 'waiting')
			AND (counter_id IS NULL OR counter_id = $4)
		RETURNING `+tokenColumns, input.TokenID, input.SessionID, occurredAt, input.CounterID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyMissedUpdate(ctx, tx, input, []string{models.StatusCalled, models.StatusWaiting}, true)
			return models.Token{}, false, err
		}
		return models.Token{}, false, err
	}
	token.RequestID = input.RequestID

	if _, err = demoteStaleServing(ctx, tx, input.SessionID, input.CounterID, occurredAt); err != nil {
		return models.Token{}, false, err
	}

	if err = insertActionRequest(ctx, tx, "start_service", input.RequestID, input.SessionID, input.CounterID, token.TokenID); err != nil {
		return models.Token{}, false, err
	}
	if err = insertTokenEvent(ctx, tx, token, "start_service", input.Actor, input.Note); err != nil {
		return models.Token{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

// EndService completes a serving token and queues the feedback invite in the
// same transaction (outbox), so the notification cannot be lost between the
// state change and the worker.
func (s *Store) EndService(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, "end_service", input.RequestID)
	if err != nil {
		return models.Token{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		if empty {
			return models.Token{}, false, store.ErrInvalidState
		}
		return existing, false, nil
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE tokens
		SET status = 'completed',
			ended_at = $3
		WHERE token_id = $1 AND session_id = $2 AND status = 'serving' AND counter_id = $4
		RETURNING `+tokenColumns, input.TokenID, input.SessionID, occurredAt, input.CounterID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyMissedUpdate(ctx, tx, input, []string{models.StatusServing}, true)
			return models.Token{}, false, err
		}
		return models.Token{}, false, err
	}
	token.RequestID = input.RequestID

	if token.Customer.Phone != "" {
		if err = insertOutboundMessage(ctx, tx, token.Customer.Phone, feedbackInviteBody(token), "feedback_invite", token.TokenID); err != nil {
			return models.Token{}, false, err
		}
	}

	if err = insertActionRequest(ctx, tx, "end_service", input.RequestID, input.SessionID, input.CounterID, token.TokenID); err != nil {
		return models.Token{}, false, err
	}
	if err = insertTokenEvent(ctx, tx, token, "end_service", input.Actor, input.Note); err != nil {
		return models.Token{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

// SkipToken parks a token that did not respond. Slot capacity is not
// released; the visit still happened.
func (s *Store) SkipToken(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	return s.applyTokenAction(ctx, input, "skip",
		[]string{models.StatusWaiting, models.StatusCalled}, false, `
		UPDATE tokens
		SET status = 'skipped',
			skip_count = skip_count + 1
		WHERE token_id = $1 AND session_id = $2 AND status IN ('waiting', 'called')
		RETURNING `+tokenColumns,
		input.TokenID, input.SessionID)
}

func (s *Store) NoShowToken(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	return s.applyTokenAction(ctx, input, "no_show",
		[]string{models.StatusCalled}, false, `
		UPDATE tokens
		SET status = 'no_show'
		WHERE token_id = $1 AND session_id = $2 AND status = 'called'
		RETURNING `+tokenColumns,
		input.TokenID, input.SessionID)
}

// TransferToken hands a token to another counter. It rejoins that counter's
// queue as waiting but keeps its original arrival time.
func (s *Store) TransferToken(ctx context.Context, input store.TransferInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, "transfer", input.RequestID)
	if err != nil {
		return models.Token{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		if empty {
			return models.Token{}, false, store.ErrInvalidState
		}
		return existing, false, nil
	}

	row := tx.QueryRow(ctx, `
		UPDATE tokens
		SET status = 'waiting',
			counter_id = $3,
			transfer_count = transfer_count + 1
		WHERE token_id = $1 AND session_id = $2 AND status IN ('waiting', 'called', 'serving')
		RETURNING `+tokenColumns, input.TokenID, input.SessionID, input.ToCounterID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyMissedUpdate(ctx, tx, store.TokenActionInput{
				TokenID:   input.TokenID,
				SessionID: input.SessionID,
			}, []string{models.StatusWaiting, models.StatusCalled, models.StatusServing}, false)
			return models.Token{}, false, err
		}
		return models.Token{}, false, err
	}
	token.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, "transfer", input.RequestID, input.SessionID, input.ByCounterID, token.TokenID); err != nil {
		return models.Token{}, false, err
	}
	if err = insertTokenEventTransfer(ctx, tx, token, input.ByCounterID, input.ToCounterID, input.Actor, input.Note); err != nil {
		return models.Token{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

// ReturnToWaiting pulls a token back into the waiting pool. arrived_at is
// re-stamped to now, which sends the token to the back of its FIFO queue.
func (s *Store) ReturnToWaiting(ctx context.Context, input store.TokenActionInput) (models.Token, bool, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return s.applyTokenAction(ctx, input, "return_to_waiting",
		[]string{models.StatusWaiting, models.StatusCalled, models.StatusServing, models.StatusSkipped}, false, `
		UPDATE tokens
		SET status = 'waiting',
			counter_id = NULL,
			arrived_at = $3
		WHERE token_id = $1 AND session_id = $2 AND status IN ('waiting', 'called', 'serving', 'skipped')
		RETURNING `+tokenColumns,
		input.TokenID, input.SessionID, occurredAt)
}

func (s *Store) ListTokenEvents(ctx context.Context, tokenID string) ([]store.TokenEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_id, token_seq, action, actor, note, payload, created_at, prev_hash, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY token_seq ASC
	`, tokenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TokenEvent
	for rows.Next() {
		var event store.TokenEvent
		var note sql.NullString
		if err := rows.Scan(&event.TokenID, &event.TokenSeq, &event.Action, &event.Actor, &note, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		if note.Valid {
			event.Note = note.String
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// applyTokenAction runs one conditional-update transition with request-id
// idempotency and a history entry.
func (s *Store) applyTokenAction(ctx context.Context, input store.TokenActionInput, action string, fromStatuses []string, requireCounter bool, query string, args ...interface{}) (models.Token, bool, error) {
	if len(fromStatuses) > 0 && !store.ValidTransition(action, fromStatuses[0]) {
		return models.Token{}, false, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, empty, err := findActionRequest(ctx, tx, action, input.RequestID)
	if err != nil {
		return models.Token{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		if empty {
			return models.Token{}, false, store.ErrInvalidState
		}
		return existing, false, nil
	}

	row := tx.QueryRow(ctx, query, args...)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyMissedUpdate(ctx, tx, input, fromStatuses, requireCounter)
			return models.Token{}, false, err
		}
		return models.Token{}, false, err
	}
	token.RequestID = input.RequestID

	if err = insertActionRequest(ctx, tx, action, input.RequestID, input.SessionID, input.CounterID, token.TokenID); err != nil {
		return models.Token{}, false, err
	}
	if err = insertTokenEvent(ctx, tx, token, action, input.Actor, input.Note); err != nil {
		return models.Token{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

// classifyMissedUpdate explains a conditional update that matched no rows:
// unknown token, wrong counter, or a status precondition failure.
func classifyMissedUpdate(ctx context.Context, tx pgx.Tx, input store.TokenActionInput, fromStatuses []string, requireCounter bool) error {
	var status string
	var counterID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT status, counter_id
		FROM tokens
		WHERE token_id = $1
	`, input.TokenID)
	if err := row.Scan(&status, &counterID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTokenNotFound
		}
		return err
	}
	if requireCounter && counterID.Valid && counterID.String != input.CounterID {
		return store.ErrCounterMismatch
	}
	return store.ErrInvalidState
}
