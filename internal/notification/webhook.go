package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/clubinhonerd/clubinhonerd/internal/config"
	"github.com/clubinhonerd/clubinhonerd/internal/httpclient"
)

// Settings read by the webhook provider
const (
	SettingWebhookURL     = "notifications.webhook_url"
	SettingWebhookBody    = "notifications.webhook_body"
	SettingWebhookHeaders = "notifications.webhook_headers"
)

// WebhookProvider posts staff-facing events (new enrollments, contact
// messages) to an HTTP endpoint such as a chat webhook. It reads its
// configuration from settings on every send so staff can change it live.
type WebhookProvider struct {
	loader *config.Loader
	client *http.Client
	events map[EventType]bool
}

// NewWebhookProvider creates a webhook provider for the given event types
func NewWebhookProvider(loader *config.Loader, types ...EventType) *WebhookProvider {
	events := make(map[EventType]bool, len(types))
	for _, t := range types {
		events[t] = true
	}
	return &WebhookProvider{
		loader: loader,
		client: httpclient.New("webhook", 30*time.Second),
		events: events,
	}
}

// Name returns the provider name
func (w *WebhookProvider) Name() string {
	return "webhook"
}

// webhookTemplateData holds the data available for template rendering
type webhookTemplateData struct {
	Type       string
	Title      string
	Message    string
	Timestamp  string
	Fields     map[string]string
	FieldsJSON string
}

// Send posts the event when a webhook URL is configured and the event type is subscribed
func (w *WebhookProvider) Send(ctx context.Context, event Event) []Result {
	url := w.loader.String(SettingWebhookURL, "")
	if url == "" || !w.events[event.Type] {
		return nil
	}

	body, err := renderWebhookBody(w.loader.String(SettingWebhookBody, ""), event)
	if err == nil {
		err = w.sendRequest(ctx, url, body, ParseWebhookHeaders(w.loader.String(SettingWebhookHeaders, "")))
	}
	return []Result{{Recipient: url, Err: err}}
}

// renderWebhookBody renders the body template with event data
func renderWebhookBody(bodyTemplate string, event Event) (string, error) {
	if bodyTemplate == "" {
		bodyTemplate = DefaultWebhookBody()
	}

	fieldsJSON := []byte("{}")
	if event.Fields != nil {
		fieldsJSON, _ = json.Marshal(event.Fields)
	}

	data := webhookTemplateData{
		Type:       string(event.Type),
		Title:      jsonEscape(event.Title),
		Message:    jsonEscape(event.Message),
		Timestamp:  event.Timestamp.Format(time.RFC3339),
		Fields:     event.Fields,
		FieldsJSON: string(fieldsJSON),
	}

	tmpl, err := template.New("webhook").Parse(bodyTemplate)
	if err != nil {
		return "", fmt.Errorf("invalid body template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// jsonEscape escapes s for use inside a JSON string literal
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// sendRequest posts the rendered body to the webhook URL
func (w *WebhookProvider) sendRequest(ctx context.Context, url, body string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// DefaultWebhookBody returns the default webhook body template
func DefaultWebhookBody() string {
	return `{
  "event": "{{.Type}}",
  "title": "{{.Title}}",
  "message": "{{.Message}}",
  "timestamp": "{{.Timestamp}}",
  "fields": {{.FieldsJSON}}
}`
}

// ValidateWebhookBody validates a webhook body template
func ValidateWebhookBody(body string) error {
	if body == "" {
		return nil // Empty body uses default, which is valid
	}

	_, err := template.New("validate").Parse(body)
	if err != nil {
		return fmt.Errorf("invalid template syntax: %w", err)
	}

	return nil
}

// ParseWebhookHeaders parses headers from form data format (key1:value1\nkey2:value2)
func ParseWebhookHeaders(headersStr string) map[string]string {
	headers := make(map[string]string)
	if headersStr == "" {
		return headers
	}

	for line := range strings.SplitSeq(headersStr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}

	return headers
}
