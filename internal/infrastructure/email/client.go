// Package email sends transactional notifications through Resend.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/resendlabs/resend-go"

	"github.com/AtRiskMedia/livedesk-go/internal/domain/apperrors"
	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Sender defines the interface for sending emails, allowing for mock implementations in tests.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendClient is the concrete implementation of the email Sender using the Resend API.
type ResendClient struct {
	client *resend.Client
	from   string
}

// NewResendClient creates a new email client. It fails when no API key is configured.
func NewResendClient(cfg config.NotifyConfig) (*ResendClient, error) {
	if cfg.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is required for email notifications")
	}
	from := cfg.FromAddress
	if from == "" {
		from = "LiveDesk <noreply@livedesk.local>"
	}
	return &ResendClient{client: resend.NewClient(cfg.ResendAPIKey), from: from}, nil
}

// Send composes the fixed layout around msg.Text and sends it. Every provider
// error is treated as transient; recipient problems are caught by job validation.
func (c *ResendClient) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := Render(msg)
	if err != nil {
		return apperrors.Permanent(err)
	}

	params := &resend.SendEmailRequest{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    body,
		Text:    msg.Text,
	}

	if _, err := c.client.Emails.Send(params); err != nil {
		return apperrors.Transient(fmt.Errorf("send email via Resend: %w", err))
	}
	return nil
}

// Disabled drops every message. It stands in when no API key is configured.
type Disabled struct{}

func (Disabled) Send(context.Context, Message) error { return nil }

type layoutData struct {
	Subject    string
	Paragraphs []string
}

var layout = template.Must(template.New("notification").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
    <title>{{.Subject}}</title>
  </head>
  <body style="font-family: Helvetica, sans-serif; font-size: 16px; line-height: 1.3; background-color: #f4f5f6; margin: 0; padding: 24px;">
    <div style="max-width: 600px; margin: 0 auto; background: #ffffff; border: 1px solid #eaebed; border-radius: 16px; padding: 24px;">
      {{range .Paragraphs}}<p style="margin: 0 0 16px;">{{.}}</p>
      {{end}}
    </div>
  </body>
</html>
`))

// Render returns the HTML body for msg. Text is escaped and split into paragraphs on blank lines.
func Render(msg Message) (string, error) {
	var paragraphs []string
	for _, p := range strings.Split(msg.Text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	var buf bytes.Buffer
	if err := layout.Execute(&buf, layoutData{Subject: msg.Subject, Paragraphs: paragraphs}); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
