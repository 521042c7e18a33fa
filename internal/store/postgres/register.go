package postgres

import (
	"context"
	"errors"
	"time"

	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// NextNumber atomically allocates the next sequence value for the scope key.
// The upsert both creates a brand-new counter row (returning 1) and
// increments an existing one; callers format the value afterwards. Gaps from
// failed downstream inserts are acceptable, duplicates are not.
func (s *Store) NextNumber(ctx context.Context, branchID string, serviceDay time.Time, insuranceTypeID string) (int64, error) {
	var next int64
	row := s.pool.QueryRow(ctx, `
		INSERT INTO token_sequences (branch_id, service_day, insurance_type_id, next_seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (branch_id, service_day, insurance_type_id)
		DO UPDATE SET next_seq = token_sequences.next_seq + 1
		RETURNING next_seq
	`, branchID, serviceDay, insuranceTypeID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func nextTokenNumber(ctx context.Context, tx pgx.Tx, branchID string, serviceDay time.Time, insuranceTypeID string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO token_sequences (branch_id, service_day, insurance_type_id, next_seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (branch_id, service_day, insurance_type_id)
		DO UPDATE SET next_seq = token_sequences.next_seq + 1
		RETURNING next_seq
	`, branchID, serviceDay, insuranceTypeID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func lookupInsurancePrefix(ctx context.Context, tx pgx.Tx, insuranceTypeID string) (string, error) {
	var prefix string
	row := tx.QueryRow(ctx, `
		SELECT prefix
		FROM insurance_types
		WHERE insurance_type_id = $1 AND active = TRUE
	`, insuranceTypeID)
	if err := row.Scan(&prefix); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrInsuranceTypeNotFound
		}
		return "", err
	}
	return prefix, nil
}

// errDuplicateRequest marks a unique violation on request_id: another
// transaction committed the same request while ours was in flight.
var errDuplicateRequest = errors.New("request already registered")

type sessionScope struct {
	BranchID        string
	InsuranceTypeID string
	CounterID       string
	ServiceDay      time.Time
	Status          string
}

func lookupSessionScope(ctx context.Context, tx pgx.Tx, sessionID string) (sessionScope, error) {
	var scope sessionScope
	row := tx.QueryRow(ctx, `
		SELECT branch_id, insurance_type_id, counter_id, service_day, status
		FROM sessions
		WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&scope.BranchID, &scope.InsuranceTypeID, &scope.CounterID, &scope.ServiceDay, &scope.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sessionScope{}, store.ErrSessionNotFound
		}
		return sessionScope{}, err
	}
	return scope, nil
}

// RegisterWalkIn issues a token for a customer without an appointment:
// reserve one seat in the slot, allocate the next number, insert the token.
// All of it commits or none of it does.
func (s *Store) RegisterWalkIn(ctx context.Context, input store.RegisterWalkInInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTokenByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Token{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		return existing, false, nil
	}

	scope, err := lookupSessionScope(ctx, tx, input.SessionID)
	if err != nil {
		return models.Token{}, false, err
	}
	if scope.Status == models.SessionCompleted || scope.Status == models.SessionCancelled {
		err = store.ErrInvalidSessionState
		return models.Token{}, false, err
	}

	if err = reserveSlotTx(ctx, tx, input.SessionID, input.SlotID); err != nil {
		return models.Token{}, false, err
	}

	token, err := insertToken(ctx, tx, insertTokenInput{
		RequestID:       input.RequestID,
		SessionID:       input.SessionID,
		SlotID:          input.SlotID,
		BranchID:        scope.BranchID,
		InsuranceTypeID: scope.InsuranceTypeID,
		ServiceDay:      scope.ServiceDay,
		Origin:          models.OriginWalkIn,
		Customer:        input.Customer,
		PriorityClass:   input.PriorityClass,
		ArrivedAt:       input.ArrivedAt,
	})
	if err != nil {
		if errors.Is(err, errDuplicateRequest) {
			_ = tx.Rollback(ctx)
			var existing models.Token
			existing, err = s.tokenByRequestID(ctx, input.RequestID)
			if err != nil {
				return models.Token{}, false, err
			}
			return existing, false, nil
		}
		return models.Token{}, false, err
	}

	if err = insertTokenEvent(ctx, tx, token, "register", "walk_in_desk", ""); err != nil {
		return models.Token{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

// CheckInAppointment converts a booked appointment into a token. The customer
// snapshot is copied off the appointment record at this moment so later edits
// to the booking never rewrite queue history.
func (s *Store) CheckInAppointment(ctx context.Context, input store.CheckInInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTokenByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Token{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Token{}, false, err
		}
		return existing, false, nil
	}

	var sessionID, slotID string
	var customer models.CustomerSnapshot
	var priorityClass string
	row := tx.QueryRow(ctx, `
		SELECT session_id, slot_id, customer_name, customer_national_id, COALESCE(customer_phone, ''), priority_class
		FROM appointments
		WHERE appointment_id = $1 AND status = 'booked'
	`, input.AppointmentID)
	if err = row.Scan(&sessionID, &slotID, &customer.Name, &customer.NationalID, &customer.Phone, &priorityClass); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrAppointmentNotFound
			return models.Token{}, false, err
		}
		return models.Token{}, false, err
	}

	scope, err := lookupSessionScope(ctx, tx, sessionID)
	if err != nil {
		return models.Token{}, false, err
	}
	if scope.BranchID != input.BranchID {
		// A kiosk can only check in appointments for its own branch.
		err = store.ErrAppointmentNotFound
		return models.Token{}, false, err
	}
	if scope.Status == models.SessionCompleted || scope.Status == models.SessionCancelled {
		err = store.ErrInvalidSessionState
		return models.Token{}, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'checked_in'
		WHERE appointment_id = $1
	`, input.AppointmentID); err != nil {
		return models.Token{}, false, err
	}

	if err = reserveSlotTx(ctx, tx, sessionID, slotID); err != nil {
		return models.Token{}, false, err
	}

	token, err := insertToken(ctx, tx, insertTokenInput{
		RequestID:       input.RequestID,
		SessionID:       sessionID,
		SlotID:          slotID,
		BranchID:        scope.BranchID,
		InsuranceTypeID: scope.InsuranceTypeID,
		ServiceDay:      scope.ServiceDay,
		Origin:          models.OriginAppointment,
		AppointmentID:   input.AppointmentID,
		Customer:        customer,
		PriorityClass:   priorityClass,
		ArrivedAt:       input.ArrivedAt,
	})
	if err != nil {
		if errors.Is(err, errDuplicateRequest) {
			_ = tx.Rollback(ctx)
			var existing models.Token
			existing, err = s.tokenByRequestID(ctx, input.RequestID)
			if err != nil {
				return models.Token{}, false, err
			}
			return existing, false, nil
		}
		return models.Token{}, false, err
	}

	if err = insertTokenEvent(ctx, tx, token, "check_in", "kiosk", ""); err != nil {
		return models.Token{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

type insertTokenInput struct {
	RequestID       string
	SessionID       string
	SlotID          string
	BranchID        string
	InsuranceTypeID string
	ServiceDay      time.Time
	Origin          string
	AppointmentID   string
	Customer        models.CustomerSnapshot
	PriorityClass   string
	ArrivedAt       time.Time
}

func insertToken(ctx context.Context, tx pgx.Tx, input insertTokenInput) (models.Token, error) {
	prefix, err := lookupInsurancePrefix(ctx, tx, input.InsuranceTypeID)
	if err != nil {
		return models.Token{}, err
	}
	seq, err := nextTokenNumber(ctx, tx, input.BranchID, input.ServiceDay, input.InsuranceTypeID)
	if err != nil {
		return models.Token{}, err
	}
	number := store.FormatTokenNumber(prefix, seq)

	arrivedAt := input.ArrivedAt
	if arrivedAt.IsZero() {
		arrivedAt = time.Now().UTC()
	}
	priorityClass := input.PriorityClass
	if priorityClass == "" {
		priorityClass = "regular"
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tokens (
			token_id, request_id, token_number, token_seq, session_id, branch_id, insurance_type_id, slot_id,
			service_day, origin, appointment_id, customer_name, customer_national_id, customer_phone,
			priority_class, status, arrived_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING `+tokenColumns,
		uuid.NewString(), input.RequestID, number, seq, input.SessionID, input.BranchID, input.InsuranceTypeID,
		nullIfEmpty(input.SlotID), input.ServiceDay, input.Origin, nullIfEmpty(input.AppointmentID),
		input.Customer.Name, input.Customer.NationalID, nullIfEmpty(input.Customer.Phone),
		priorityClass, models.StatusWaiting, arrivedAt)
	token, err := scanToken(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// A racing request with the same request id beat us; the caller
			// hands back the winner's token.
			if pgErr.ConstraintName == "tokens_request_id_key" {
				return models.Token{}, errDuplicateRequest
			}
			// A duplicate on (branch, service_day, token_number) means the
			// allocator handed out the same number twice. That is a bug to
			// surface, not to retry.
			return models.Token{}, store.ErrNumberConflict
		}
		return models.Token{}, err
	}
	token.RequestID = input.RequestID
	return token, nil
}

func (s *Store) tokenByRequestID(ctx context.Context, requestID string) (models.Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE request_id = $1
	`, requestID)
	token, err := scanToken(row)
	if err != nil {
		return models.Token{}, err
	}
	token.RequestID = requestID
	return token, nil
}

func findTokenByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Token, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE request_id = $1
	`, requestID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	token.RequestID = requestID
	return token, true, nil
}
