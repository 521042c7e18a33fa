package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Transport delivers one message body to one destination and returns the
// provider's acknowledgement.
type Transport interface {
	Send(ctx context.Context, destination, body string) (string, error)
}

func NewTransport(kind string) Transport {
	switch kind {
	case "", "stub", "log":
		return logTransport{}
	case "noop":
		return noopTransport{}
	case "fail":
		return failTransport{}
	case "webhook":
		url := os.Getenv("NOTIFY_WEBHOOK_URL")
		token := os.Getenv("NOTIFY_WEBHOOK_TOKEN")
		if url == "" {
			return logTransport{}
		}
		return webhookTransport{url: url, token: token}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookTransport{url: kind}
		}
		return logTransport{}
	}
}

type logTransport struct{}

func (logTransport) Send(ctx context.Context, destination, body string) (string, error) {
	log.Printf("send to %s: %s", destination, body)
	return "logged", nil
}

type noopTransport struct{}

func (noopTransport) Send(ctx context.Context, destination, body string) (string, error) {
	return "noop", nil
}

type failTransport struct{}

func (failTransport) Send(ctx context.Context, destination, body string) (string, error) {
	return "", errors.New("provider failure")
}

type webhookTransport struct {
	url   string
	token string
}

func (t webhookTransport) Send(ctx context.Context, destination, body string) (string, error) {
	payload := map[string]string{
		"destination": destination,
		"message":     body,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	ack, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider rejected request: %s", resp.Status)
	}
	return string(ack), nil
}
