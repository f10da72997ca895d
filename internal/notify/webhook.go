package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// WebhookNotifier posts notifications as JSON to a single endpoint. Clears
// reuse the endpoint with a "clear" event so the consumer can withdraw a
// previously shown notification.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookNotifier(url, token string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

type webhookPayload struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	return w.post(ctx, webhookPayload{
		Event:   "notify",
		ID:      n.ID,
		Title:   n.Title,
		Message: n.Message,
	})
}

func (w *WebhookNotifier) Clear(ctx context.Context, id string) error {
	return w.post(ctx, webhookPayload{Event: "clear", ID: id})
}

func (w *WebhookNotifier) post(ctx context.Context, payload webhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
