package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// prefixColumns qualifies every column in a comma-separated list with a table
// alias, for queries that join the table against a CTE.
func prefixColumns(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func prefixedTokenColumns(alias string) string {
	return prefixColumns(tokenColumns, alias)
}

func scanToken(row pgx.Row) (models.Token, error) {
	var token models.Token
	var slotID sql.NullString
	var appointmentID sql.NullString
	var phone sql.NullString
	var counterID sql.NullString
	var firstCalledAt sql.NullTime
	var serviceStartAt sql.NullTime
	var endedAt sql.NullTime
	err := row.Scan(
		&token.TokenID, &token.TokenNumber, &token.SessionID, &token.BranchID, &token.InsuranceTypeID,
		&slotID, &token.ServiceDay, &token.Origin, &appointmentID,
		&token.Customer.Name, &token.Customer.NationalID, &phone,
		&token.PriorityClass, &token.Status, &counterID,
		&token.ArrivedAt, &firstCalledAt, &serviceStartAt, &endedAt,
		&token.SkipCount, &token.TransferCount,
	)
	if err != nil {
		return models.Token{}, err
	}
	if slotID.Valid {
		token.SlotID = slotID.String
	}
	token.AppointmentID = nullStringPtr(appointmentID)
	if phone.Valid {
		token.Customer.Phone = phone.String
	}
	token.CounterID = nullStringPtr(counterID)
	token.FirstCalledAt = nullTimePtr(firstCalledAt)
	token.ServiceStartAt = nullTimePtr(serviceStartAt)
	token.EndedAt = nullTimePtr(endedAt)
	return token, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (models.Token, bool, bool, error) {
	var tokenID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT token_id
		FROM token_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&tokenID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, false, nil
		}
		return models.Token{}, false, false, err
	}
	if !tokenID.Valid {
		return models.Token{}, true, true, nil
	}

	row = tx.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE token_id = $1
	`, tokenID.String)
	token, err := scanToken(row)
	if err != nil {
		return models.Token{}, false, false, err
	}
	token.RequestID = requestID
	return token, true, false, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, sessionID, counterID, tokenID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO token_action_requests (request_id, action, session_id, counter_id, token_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, action, nullIfEmpty(sessionID), nullIfEmpty(counterID), nullIfEmpty(tokenID))
	return err
}

// insertTokenEvent appends one entry to the token's hash-chained history log.
// The advisory lock serializes appends per token so the chain never forks.
func insertTokenEvent(ctx context.Context, tx pgx.Tx, token models.Token, action, actor, note string) error {
	payload, err := tokenEventPayload(token, "", "")
	if err != nil {
		return err
	}
	return appendTokenEvent(ctx, tx, token.TokenID, action, actor, note, payload)
}

func insertTokenEventTransfer(ctx context.Context, tx pgx.Tx, token models.Token, byCounterID, toCounterID, actor, note string) error {
	payload, err := tokenEventPayload(token, byCounterID, toCounterID)
	if err != nil {
		return err
	}
	return appendTokenEvent(ctx, tx, token.TokenID, "transfer", actor, note, payload)
}

func tokenEventPayload(token models.Token, byCounterID, toCounterID string) ([]byte, error) {
	payload := map[string]interface{}{
		"token_id":         token.TokenID,
		"token_number":     token.TokenNumber,
		"status":           token.Status,
		"session_id":       token.SessionID,
		"branch_id":        token.BranchID,
		"slot_id":          token.SlotID,
		"arrived_at":       token.ArrivedAt,
		"first_called_at":  token.FirstCalledAt,
		"service_start_at": token.ServiceStartAt,
		"ended_at":         token.EndedAt,
		"counter_id":       token.CounterID,
	}
	if toCounterID != "" {
		payload["to_counter_id"] = toCounterID
	}
	if byCounterID != "" {
		payload["by_counter_id"] = byCounterID
	}
	return json.Marshal(payload)
}

func appendTokenEvent(ctx context.Context, tx pgx.Tx, tokenID, action, actor, note string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tokenID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT token_seq, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY token_seq DESC
		LIMIT 1
		FOR UPDATE
	`, tokenID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// Truncate to what timestamptz can hold, so the hash recomputes from the
	// stored row.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeTokenEventHash(prev, tokenID, action, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO token_events (token_id, token_seq, action, actor, note, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tokenID, nextSeq, action, actor, nullIfEmpty(note), payload, createdAt, prev, hash)
	return err
}

func feedbackInviteBody(token models.Token) string {
	return fmt.Sprintf("Terima kasih %s, layanan untuk nomor %s telah selesai. Mohon isi survei kepuasan Anda.", token.Customer.Name, token.TokenNumber)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
