package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookHook POSTs a JSON body {"event": ..., "payload": ...} to a
// configured URL on every fired event.
type WebhookHook struct {
	url    string
	client *http.Client
}

// NewWebhookHook returns a WebhookHook posting to url with the given
// request timeout.
func NewWebhookHook(url string, timeout time.Duration) *WebhookHook {
	return &WebhookHook{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *WebhookHook) Fire(event Event, payload Payload) error {
	body, err := json.Marshal(map[string]any{"event": string(event), "payload": payload})
	if err != nil {
		return fmt.Errorf("webhook hook: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook hook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook hook: post %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook hook: %s returned status %d", h.url, resp.StatusCode)
	}
	return nil
}
