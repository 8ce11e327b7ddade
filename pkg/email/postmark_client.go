package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// postmarkAPI is the part of *postmark.Client used by PostmarkClient.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkClient delivers email through the Postmark API.
type PostmarkClient struct {
	client postmarkAPI
	from   string
	reply  string
}

// NewPostmarkClient validates cfg and creates a Postmark-backed sender.
func NewPostmarkClient(cfg Config) (*PostmarkClient, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if err := cfg.validateAddresses(); err != nil {
		return nil, err
	}
	return newPostmarkClient(postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken), cfg), nil
}

func newPostmarkClient(api postmarkAPI, cfg Config) *PostmarkClient {
	return &PostmarkClient{client: api, from: cfg.SenderEmail, reply: cfg.SupportEmail}
}

func (c *PostmarkClient) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:       c.from,
		ReplyTo:    c.reply,
		To:         params.SendTo,
		Subject:    params.Subject,
		Tag:        params.Tag,
		HTMLBody:   params.BodyHTML,
		TextBody:   params.BodyText,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
