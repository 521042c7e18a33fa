package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `message_id, destination, body, kind, token_id, status, attempts, next_attempt_at,
	last_error, provider_response, created_at, sent_at`

// insertOutboundMessage writes a notification job inside the caller's
// transaction so the job and the state change it announces commit or roll
// back together.
func insertOutboundMessage(ctx context.Context, tx pgx.Tx, destination, body, kind, tokenID string) error {
	now := time.Now().UTC()
	_, err := tx.Exec(ctx, `
		INSERT INTO outbound_messages (message_id, destination, body, kind, token_id, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, $6)
	`, uuid.NewString(), destination, body, nullIfEmpty(kind), nullIfEmpty(tokenID), now)
	return err
}

func (s *Store) EnqueueMessage(ctx context.Context, input store.EnqueueMessageInput) (models.OutboundMessage, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO outbound_messages (message_id, destination, body, kind, token_id, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, $6)
		RETURNING `+messageColumns,
		uuid.NewString(), input.Destination, input.Body, nullIfEmpty(input.Kind), nullIfEmpty(input.TokenID), now)
	return scanMessage(row)
}

// ClaimMessage takes exactly one due message and marks it processing. SKIP
// LOCKED keeps concurrent workers off each other's claims; returns false when
// nothing is due.
func (s *Store) ClaimMessage(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error) {
	row := s.pool.QueryRow(ctx, `
		WITH next_message AS (
			SELECT message_id
			FROM outbound_messages
			WHERE status IN ('queued', 'retrying') AND next_attempt_at <= $1
			ORDER BY next_attempt_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE outbound_messages
		SET status = 'processing'
		FROM next_message
		WHERE outbound_messages.message_id = next_message.message_id
		RETURNING `+prefixedMessageColumns("outbound_messages"), now)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OutboundMessage{}, false, nil
		}
		return models.OutboundMessage{}, false, err
	}
	return message, true, nil
}

func (s *Store) MarkMessageSent(ctx context.Context, messageID, providerResponse string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = 'sent',
			attempts = attempts + 1,
			provider_response = $2,
			last_error = NULL,
			sent_at = $3
		WHERE message_id = $1 AND status = 'processing'
	`, messageID, nullIfEmpty(providerResponse), time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}

func (s *Store) MarkMessageRetrying(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = 'retrying',
			attempts = $2,
			next_attempt_at = $3,
			last_error = $4
		WHERE message_id = $1 AND status = 'processing'
	`, messageID, attempts, nextAttemptAt, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}

func (s *Store) MarkMessageFailed(ctx context.Context, messageID string, attempts int, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbound_messages
		SET status = 'failed',
			attempts = $2,
			last_error = $3
		WHERE message_id = $1 AND status = 'processing'
	`, messageID, attempts, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (models.OutboundMessage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM outbound_messages
		WHERE message_id = $1
	`, messageID)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OutboundMessage{}, store.ErrMessageNotFound
		}
		return models.OutboundMessage{}, err
	}
	return message, nil
}

func (s *Store) ListMessages(ctx context.Context, status string, limit int) ([]models.OutboundMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages`
	args := []interface{}{limit}
	if status != "" {
		query += ` WHERE status = $2`
		args = append(args, status)
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.OutboundMessage
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func prefixedMessageColumns(alias string) string {
	return prefixColumns(messageColumns, alias)
}

func scanMessage(row pgx.Row) (models.OutboundMessage, error) {
	var message models.OutboundMessage
	var kind sql.NullString
	var tokenID sql.NullString
	var lastError sql.NullString
	var providerResponse sql.NullString
	var sentAt sql.NullTime
	if err := row.Scan(&message.MessageID, &message.Destination, &message.Body, &kind, &tokenID,
		&message.Status, &message.Attempts, &message.NextAttemptAt,
		&lastError, &providerResponse, &message.CreatedAt, &sentAt); err != nil {
		return models.OutboundMessage{}, err
	}
	message.Kind = kind.String
	message.TokenID = tokenID.String
	message.LastError = lastError.String
	message.ProviderResponse = providerResponse.String
	message.SentAt = nullTimePtr(sentAt)
	return message, nil
}
