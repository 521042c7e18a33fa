package worker

import (
	"context"
	"log"
	"time"

	"iqms/queue-service/internal/store"
)

type Worker struct {
	store       store.MessageStore
	transport   Transport
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func New(messages store.MessageStore, transport Transport, cfg Config) *Worker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	capDur := cfg.BackoffCap
	if capDur <= 0 {
		capDur = 10 * time.Minute
	}
	return &Worker{
		store:       messages,
		transport:   transport,
		maxAttempts: maxAttempts,
		backoffBase: base,
		backoffCap:  capDur,
	}
}

// Backoff returns the delay before the given attempt number is retried.
// Doubles per attempt starting from base, clamped to cap.
func Backoff(base, capDur time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= capDur {
			return capDur
		}
	}
	if delay > capDur {
		return capDur
	}
	return delay
}

// RunOnce claims and processes at most one due message. Returns whether a
// message was claimed, so the caller can drain until the queue is empty.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	now := time.Now().UTC()
	message, claimed, err := w.store.ClaimMessage(ctx, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	ack, sendErr := w.transport.Send(ctx, message.Destination, message.Body)
	if sendErr == nil {
		return true, w.store.MarkMessageSent(ctx, message.MessageID, ack)
	}

	attempts := message.Attempts + 1
	if attempts >= w.maxAttempts {
		log.Printf("message %s failed after %d attempts: %v", message.MessageID, attempts, sendErr)
		return true, w.store.MarkMessageFailed(ctx, message.MessageID, attempts, sendErr.Error())
	}
	next := now.Add(Backoff(w.backoffBase, w.backoffCap, attempts))
	return true, w.store.MarkMessageRetrying(ctx, message.MessageID, attempts, next, sendErr.Error())
}

// Run drains every message that is currently due.
func (w *Worker) Run(ctx context.Context) error {
	for {
		claimed, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
	}
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notify worker error: %v", err)
			}
		}
	}
}
