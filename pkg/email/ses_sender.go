package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

// sesAPI is the part of *sesv2.Client used by SESSender.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers email through Amazon SES v2.
type SESSender struct {
	client sesAPI
	from   string
	reply  string
}

// NewSESSender loads AWS configuration (static keys from cfg when set,
// otherwise the default credential chain) and creates an SES-backed sender.
func NewSESSender(ctx context.Context, cfg Config) (*SESSender, error) {
	if cfg.AWSRegion == "" {
		return nil, fmt.Errorf("%w: AWSRegion is required", ErrInvalidConfig)
	}
	if err := cfg.validateAddresses(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSESSender(api sesAPI, cfg Config) *SESSender {
	return &SESSender{client: api, from: cfg.SenderEmail, reply: cfg.SupportEmail}
}

func (s *SESSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	body := &types.Body{
		Html: &types.Content{Data: aws.String(params.BodyHTML), Charset: aws.String("UTF-8")},
	}
	if params.BodyText != "" {
		body.Text = &types.Content{Data: aws.String(params.BodyText), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{params.SendTo}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(params.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if s.reply != "" {
		input.ReplyToAddresses = []string{s.reply}
	}
	if params.Tag != "" {
		input.EmailTags = []types.MessageTag{{Name: aws.String("tag"), Value: aws.String(params.Tag)}}
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return errors.Join(ErrFailedToSendEmail, fmt.Errorf("ses error: %s - %s", apiErr.ErrorCode(), apiErr.ErrorMessage()))
		}
		return errors.Join(ErrFailedToSendEmail, err)
	}
	return nil
}
