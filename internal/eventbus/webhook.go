package eventbus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const webhookAttempts = 3

// WebhookSink POSTs each event to a URL, signed with HMAC-SHA256 when a
// secret is configured. Failed deliveries are retried with exponential
// backoff; 4xx responses other than 429 are not retried.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client

	// initialInterval is shortened in tests.
	initialInterval time.Duration
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url, secret string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookSink{
		url:             url,
		secret:          secret,
		client:          &http.Client{Timeout: timeout},
		initialInterval: time.Second,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Publish(ctx context.Context, ev Event) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, webhookAttempts-1), ctx)

	return backoff.Retry(func() error {
		return s.post(ctx, ev)
	}, policy)
}

func (s *WebhookSink) post(ctx context.Context, ev Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(ev.Data))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PairingPlane-Webhook/1.0")
	req.Header.Set("X-Pairing-Event", ev.Type)
	if s.secret != "" {
		req.Header.Set("X-Pairing-Signature", "sha256="+Sign(s.secret, ev.Data))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, s.url))
	default:
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, s.url)
	}
}

func (s *WebhookSink) Close() error { return nil }

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
