package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxAttempts = 3

var (
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// backoff is doubled after every failed attempt.
	backoff = 500 * time.Millisecond
)

// Send posts event to cfg's endpoint. Transport errors and 5xx responses are
// retried with exponential backoff until ctx ends; 4xx responses are final.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	wait := backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retry, err := post(ctx, cfg, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook abandoned after %d attempt(s): %w", attempt, lastErr)
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

// post makes one delivery attempt and reports whether a failure is worth
// retrying.
func post(ctx context.Context, cfg AlertConfig, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toolgate-alert")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode < 500:
		return false, fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	default:
		return true, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
