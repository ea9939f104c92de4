package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

const webhookDefaultTimeout = 10 * time.Second

// Webhook dials a subscription's configured endpoint for each signal
// delivery. Unlike WebSocket, SSE, and Polling it mounts no inbound route:
// delivery is server-initiated, so it satisfies hub.WebhookDialer rather
// than the Transport interface. A non-2xx response or transport error is
// reported back to the caller as a failed attempt; Webhook never retries
// internally, since the delivery tracker already owns redelivery scheduling
// and backoff.
type Webhook struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		client: &http.Client{Timeout: webhookDefaultTimeout},
		logger: logger.With("component", "webhook-transport"),
	}
}

// Deliver POSTs the signal delivery to webhook.URL. When webhook.Secret is
// set the body is signed with HMAC-SHA256 and carried in
// X-Cauce-Signature; any caller-supplied headers are sent verbatim. Success
// is any 2xx response.
func (w *Webhook) Deliver(ctx context.Context, webhook *domain.WebhookConfig, d domain.SignalDelivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("webhook: marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range webhook.Headers {
		req.Header.Set(k, v)
	}
	if webhook.Secret != "" {
		req.Header.Set("X-Cauce-Signature", signBody(webhook.Secret, body))
	}

	client := w.client
	if webhook.TimeoutMillis > 0 {
		c := *w.client
		c.Timeout = time.Duration(webhook.TimeoutMillis) * time.Millisecond
		client = &c
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
