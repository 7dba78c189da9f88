package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
)

// Webhook request headers
const (
	HeaderEventType = "X-EWD-Event"
	HeaderSignature = "X-EWD-Signature"
)

// WebhookConfig holds webhook delivery settings
type WebhookConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Webhook POSTs each event as JSON. Network errors and 5xx responses are
// retried with exponential backoff; 4xx responses are not.
type Webhook struct {
	url        string
	secret     []byte
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewWebhook(cfg WebhookConfig, logger *zap.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	return &Webhook{
		url:        cfg.URL,
		secret:     []byte(cfg.Secret),
		client:     &http.Client{Timeout: timeout},
		maxRetries: retries,
		retryDelay: delay,
		logger:     logger,
	}, nil
}

func (w *Webhook) Name() string { return "webhook" }

// Sign returns the hex HMAC-SHA256 of body, empty when no secret is set
func (w *Webhook) Sign(body []byte) string {
	if len(w.secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) Notify(ctx context.Context, evt *event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	signature := w.Sign(body)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retryDelay
	policy.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEventType, string(evt.Type))
		if signature != "" {
			req.Header.Set(HeaderSignature, signature)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook rejected event: status %d", resp.StatusCode))
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.maxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		w.logger.Warn("Webhook delivery failed",
			zap.String("event_type", string(evt.Type)),
			zap.String("event_id", evt.ID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, err)
	}
	return nil
}
