package mockmail

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/mockmailer/pkg/email"
	"github.com/dmitrymomot/mockmailer/pkg/email/templates"
)

// Message is the fixed email this module sends.
type Message struct {
	To      string
	Subject string
	Body    string
}

// BuildMessage returns the hard-coded message. Every call returns an equal,
// independent value.
func BuildMessage() Message {
	return Message{
		To:      "you@yourwebsite.com",
		Subject: "keep your head up",
		Body:    "life is hard but you got this - keep coding and keep going!",
	}
}

// SendEmailParams renders the body into HTML and keeps it as the plain-text
// alternative.
func (m Message) SendEmailParams(ctx context.Context) (email.SendEmailParams, error) {
	html, err := templates.Render(ctx, templates.Paragraphs(m.Subject, m.Body))
	if err != nil {
		return email.SendEmailParams{}, fmt.Errorf("render mock email: %w", err)
	}
	return email.SendEmailParams{
		SendTo:   m.To,
		Subject:  m.Subject,
		BodyHTML: html,
		BodyText: m.Body,
		Tag:      "mock_email",
	}, nil
}
