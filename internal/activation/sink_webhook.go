package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"
)

// Headers set on every webhook delivery.
const (
	HeaderEventVersion = "X-Watcher-Event-Version"
	HeaderRequestID    = "X-Watcher-Request-Id"
)

var webhookBackoff = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}

// WebhookSink POSTs verdict events to an HTTP endpoint. Network errors, 429
// and 5xx responses are retried; other statuses fail immediately.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink posts to url. timeout bounds each attempt, not the whole
// retry sequence.
func NewWebhookSink(url string, headers map[string]string, timeout time.Duration) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook sink needs a url")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WebhookSink{
		url:     url,
		headers: maps.Clone(headers),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		retry, err := s.post(ctx, ev, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt >= len(webhookBackoff) {
			return lastErr
		}

		timer := time.NewTimer(webhookBackoff[attempt])
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (s *WebhookSink) post(ctx context.Context, ev *Event, payload []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventVersion, ev.Version)
	req.Header.Set(HeaderRequestID, ev.RequestID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("post: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return false, nil
	}
	retry = code == http.StatusTooManyRequests || code >= 500
	return retry, fmt.Errorf("status %d body=%q", code, truncateBody(body))
}

// Close drops idle keep-alive connections.
func (s *WebhookSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
