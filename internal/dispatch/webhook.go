package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/freightdeck/pulse/internal/metrics"
)

// WebhookPayload is the body POSTed to webhook targets.
type WebhookPayload struct {
	RecordID  string         `json:"record_id"`
	RuleID    string         `json:"rule_id"`
	SubjectID string         `json:"subject_id"`
	MatchedAt int64          `json:"matched_at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Webhook delivers event payloads to configured URLs with per-call timeouts
// and the transient-retry policy. A hung target is bounded by the client
// timeout and never stalls sibling actions.
type Webhook struct {
	httpClient *http.Client
	retry      RetryConfig
	collector  *metrics.Collector
}

// NewWebhook creates a webhook transport with the given per-call timeout.
func NewWebhook(timeout time.Duration) *Webhook {
	return &Webhook{
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryConfig(),
	}
}

// SetRetryConfig overrides the retry policy. Test use only.
func (w *Webhook) SetRetryConfig(cfg RetryConfig) {
	w.retry = cfg
}

// SetMetrics attaches a collector counting retry attempts.
func (w *Webhook) SetMetrics(collector *metrics.Collector) {
	w.collector = collector
}

// Deliver POSTs the payload to url, retrying transient failures (timeouts,
// 5xx) with exponential backoff. 4xx responses and exhausted retries come
// back as PermanentError.
func (w *Webhook) Deliver(ctx context.Context, url string, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{Op: "webhook_marshal", Err: err}
	}

	operation := fmt.Sprintf("webhook_%s", payload.RecordID)
	attempt := 0
	return WithRetry(ctx, w.retry, operation, func() error {
		attempt++
		if attempt > 1 && w.collector != nil {
			w.collector.Inc(metrics.WebhookRetries)
		}
		return w.post(ctx, url, body)
	})
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Op: "webhook_request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		// Network errors and client timeouts are transient.
		return &TransientError{Op: "webhook_post", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &TransientError{Op: "webhook_post", Err: fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	default:
		slog.Error("Webhook returned non-retryable status",
			"status_code", resp.StatusCode,
			"url", url,
		)
		return &PermanentError{Op: "webhook_post", Err: fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	}
}
