package events

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
	"sync"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = "X-Certchain-Signature"

// WebhookPublisher POSTs each event as JSON to a fixed set of endpoints.
// Each delivery runs in its own goroutine and is retried with backoff.
type WebhookPublisher struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onResult   func(success bool)
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewWebhookPublisher creates a WebhookPublisher. When secret is non-empty
// every request carries a SignatureHeader over the raw body.
func NewWebhookPublisher(urls []string, secret string, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, time.Second, 5 * time.Second},
		logger:     logger,
	}
}

// SetResultRecorder configures a callback invoked once per delivery with its
// final outcome.
func (p *WebhookPublisher) SetResultRecorder(fn func(success bool)) {
	p.onResult = fn
}

// Publish implements Publisher. It returns once deliveries are scheduled;
// delivery failures are logged, not returned.
func (p *WebhookPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	for _, url := range p.urls {
		p.wg.Add(1)
		go func(url string) {
			defer p.wg.Done()
			err := p.deliver(ctx, url, body)
			if err != nil {
				p.logger.Error("webhook: giving up",
					zap.String("url", url),
					zap.String("type", evt.Type),
					zap.String("content_hash", evt.ContentHash),
					zap.Error(err),
				)
			}
			if p.onResult != nil {
				p.onResult(err == nil)
			}
		}(url)
	}
	return nil
}

// Wait blocks until every scheduled delivery has finished.
func (p *WebhookPublisher) Wait() {
	p.wg.Wait()
}

func (p *WebhookPublisher) deliver(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt, delay := range p.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		lastErr = p.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (p *WebhookPublisher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, p.secret))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the "sha256=<hex>" HMAC signature of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
