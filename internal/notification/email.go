package notification

import (
	"context"
	"maps"

	"github.com/clubinhonerd/clubinhonerd/internal/email"
)

// EmailProvider renders an event's template for each recipient and mails it
type EmailProvider struct {
	mailer email.Mailer
}

// NewEmailProvider creates an email notification provider
func NewEmailProvider(mailer email.Mailer) *EmailProvider {
	return &EmailProvider{mailer: mailer}
}

// Name returns the provider name
func (p *EmailProvider) Name() string {
	return "email"
}

// Send mails the event to every recipient. Events without a template or
// recipients are not for this provider.
func (p *EmailProvider) Send(ctx context.Context, event Event) []Result {
	if event.Template == "" || len(event.Recipients) == 0 {
		return nil
	}

	results := make([]Result, 0, len(event.Recipients))
	for _, rcpt := range event.Recipients {
		data := maps.Clone(event.Data)
		if data == nil {
			data = map[string]any{}
		}
		data["Name"] = rcpt.Name

		html, err := email.Render(event.Template, data)
		if err == nil {
			err = p.mailer.Send(ctx, email.Message{
				To:      rcpt.Email,
				ToName:  rcpt.Name,
				ReplyTo: event.ReplyTo,
				Subject: event.Title,
				HTML:    html,
			})
		}
		results = append(results, Result{Recipient: rcpt.Email, Err: err})
	}
	return results
}
