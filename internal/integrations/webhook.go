package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/floridafirst/sopflow/pkg/schema"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxErrorBody          = 4 * 1024
)

// Webhook POSTs the integration payload as JSON to a fixed URL.
// Any non-2xx response is an INTEGRATION_ERROR.
type Webhook struct {
	Name   string
	URL    string
	Client *http.Client
}

// NewWebhook creates a Webhook with a default client timeout.
func NewWebhook(name, url string) *Webhook {
	return &Webhook{
		Name:   name,
		URL:    url,
		Client: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

// Run sends the payload.
func (w *Webhook) Run(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"integration": w.Name,
		"payload":     payload,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeIntegration, "webhook %q: marshal payload", w.Name).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeIntegration, "webhook %q: build request", w.Name).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sopflow/1.0")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeIntegration, "webhook %q: %s", w.Name, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return schema.NewError(schema.ErrCodeIntegration,
			fmt.Sprintf("webhook %q returned %d", w.Name, resp.StatusCode)).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": string(snippet), "url": w.URL})
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// RegisterWebhooks registers one webhook per entry under kind.
func RegisterWebhooks(r *Registry, kind Kind, urls map[string]string) error {
	for name, url := range urls {
		if err := r.Register(kind, name, NewWebhook(name, url)); err != nil {
			return err
		}
	}
	return nil
}
