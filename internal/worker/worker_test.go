package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"iqms/queue-service/internal/models"
	"iqms/queue-service/internal/store"
)

type fakeMessageStore struct {
	claimFn    func(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error)
	sentFn     func(ctx context.Context, messageID, providerResponse string) error
	retryingFn func(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error
	failedFn   func(ctx context.Context, messageID string, attempts int, lastError string) error
}

func (f fakeMessageStore) EnqueueMessage(ctx context.Context, input store.EnqueueMessageInput) (models.OutboundMessage, error) {
	return models.OutboundMessage{}, nil
}

func (f fakeMessageStore) ClaimMessage(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error) {
	if f.claimFn == nil {
		return models.OutboundMessage{}, false, nil
	}
	return f.claimFn(ctx, now)
}

func (f fakeMessageStore) MarkMessageSent(ctx context.Context, messageID, providerResponse string) error {
	if f.sentFn == nil {
		return nil
	}
	return f.sentFn(ctx, messageID, providerResponse)
}

func (f fakeMessageStore) MarkMessageRetrying(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	if f.retryingFn == nil {
		return nil
	}
	return f.retryingFn(ctx, messageID, attempts, nextAttemptAt, lastError)
}

func (f fakeMessageStore) MarkMessageFailed(ctx context.Context, messageID string, attempts int, lastError string) error {
	if f.failedFn == nil {
		return nil
	}
	return f.failedFn(ctx, messageID, attempts, lastError)
}

func (f fakeMessageStore) GetMessage(ctx context.Context, messageID string) (models.OutboundMessage, error) {
	return models.OutboundMessage{}, nil
}

func (f fakeMessageStore) ListMessages(ctx context.Context, status string, limit int) ([]models.OutboundMessage, error) {
	return nil, nil
}

type fnTransport func(ctx context.Context, destination, body string) (string, error)

func (f fnTransport) Send(ctx context.Context, destination, body string) (string, error) {
	return f(ctx, destination, body)
}

func TestBackoff(t *testing.T) {
	base := 30 * time.Second
	capDur := 10 * time.Minute

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 480 * time.Second},
		{6, 10 * time.Minute},
		{20, 10 * time.Minute},
		{0, 30 * time.Second},
	}
	for _, tt := range cases {
		if got := Backoff(base, capDur, tt.attempt); got != tt.want {
			t.Fatalf("Backoff(attempt=%d)=%v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRunOnceSendsMessage(t *testing.T) {
	var sentID, sentAck string
	st := fakeMessageStore{
		claimFn: func(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error) {
			return models.OutboundMessage{MessageID: "msg-1", Destination: "0812000111", Body: "hello"}, true, nil
		},
		sentFn: func(ctx context.Context, messageID, providerResponse string) error {
			sentID = messageID
			sentAck = providerResponse
			return nil
		},
	}
	transport := fnTransport(func(ctx context.Context, destination, body string) (string, error) {
		return "ok", nil
	})

	w := New(st, transport, Config{})
	claimed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !claimed {
		t.Fatalf("expected a claim")
	}
	if sentID != "msg-1" || sentAck != "ok" {
		t.Fatalf("sent marker wrong: id=%s ack=%s", sentID, sentAck)
	}
}

func TestRunOnceRetriesWithBackoff(t *testing.T) {
	var gotAttempts int
	var gotNext time.Time
	before := time.Now().UTC()
	st := fakeMessageStore{
		claimFn: func(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error) {
			return models.OutboundMessage{MessageID: "msg-1", Attempts: 1}, true, nil
		},
		retryingFn: func(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error {
			gotAttempts = attempts
			gotNext = nextAttemptAt
			return nil
		},
		failedFn: func(ctx context.Context, messageID string, attempts int, lastError string) error {
			t.Fatalf("should retry, not fail")
			return nil
		},
	}
	transport := fnTransport(func(ctx context.Context, destination, body string) (string, error) {
		return "", errors.New("provider failure")
	})

	w := New(st, transport, Config{MaxAttempts: 5, BackoffBase: 30 * time.Second, BackoffCap: 10 * time.Minute})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if gotAttempts != 2 {
		t.Fatalf("attempts=%d, want 2", gotAttempts)
	}
	// Second attempt backs off 60s.
	delay := gotNext.Sub(before)
	if delay < 59*time.Second || delay > 62*time.Second {
		t.Fatalf("next attempt delay %v, want about 60s", delay)
	}
}

func TestRunOnceFailsAfterMaxAttempts(t *testing.T) {
	var failedAttempts int
	st := fakeMessageStore{
		claimFn: func(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error) {
			return models.OutboundMessage{MessageID: "msg-1", Attempts: 4}, true, nil
		},
		retryingFn: func(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time, lastError string) error {
			t.Fatalf("should fail, not retry")
			return nil
		},
		failedFn: func(ctx context.Context, messageID string, attempts int, lastError string) error {
			failedAttempts = attempts
			return nil
		},
	}
	transport := fnTransport(func(ctx context.Context, destination, body string) (string, error) {
		return "", errors.New("provider failure")
	})

	w := New(st, transport, Config{MaxAttempts: 5})
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if failedAttempts != 5 {
		t.Fatalf("failed at attempts=%d, want 5", failedAttempts)
	}
}

func TestRunOnceNothingDue(t *testing.T) {
	st := fakeMessageStore{}
	transport := fnTransport(func(ctx context.Context, destination, body string) (string, error) {
		t.Fatalf("transport should not be called")
		return "", nil
	})

	w := New(st, transport, Config{})
	claimed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if claimed {
		t.Fatalf("expected no claim")
	}
}

func TestRunDrainsQueue(t *testing.T) {
	remaining := 3
	st := fakeMessageStore{
		claimFn: func(ctx context.Context, now time.Time) (models.OutboundMessage, bool, error) {
			if remaining == 0 {
				return models.OutboundMessage{}, false, nil
			}
			remaining--
			return models.OutboundMessage{MessageID: "msg"}, true, nil
		},
	}
	transport := fnTransport(func(ctx context.Context, destination, body string) (string, error) {
		return "ok", nil
	})

	w := New(st, transport, Config{})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("queue not drained, %d left", remaining)
	}
}
