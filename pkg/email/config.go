package email

import (
	"context"
	"fmt"
	"log/slog"
)

// Driver selects the transport used by NewFromConfig.
type Driver string

const (
	DriverLog      Driver = "log"
	DriverDev      Driver = "dev"
	DriverPostmark Driver = "postmark"
	DriverSES      Driver = "ses"
)

type Config struct {
	Driver Driver `env:"MAIL_DRIVER" envDefault:"log"`
	DevDir string `env:"MAIL_DEV_DIR" envDefault:"tmp/emails"`

	SenderEmail  string `env:"SENDER_EMAIL" envDefault:"noreply@yourwebsite.com"`
	SupportEmail string `env:"SUPPORT_EMAIL" envDefault:"support@yourwebsite.com"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`

	AWSRegion          string `env:"AWS_REGION"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

func (c Config) validateAddresses() error {
	if c.SenderEmail == "" {
		return fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}
	if !emailRegex.MatchString(c.SenderEmail) {
		return fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if c.SupportEmail != "" && !emailRegex.MatchString(c.SupportEmail) {
		return fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}
	return nil
}

// NewFromConfig builds the sender selected by cfg.Driver.
func NewFromConfig(ctx context.Context, cfg Config, log *slog.Logger) (EmailSender, error) {
	switch cfg.Driver {
	case DriverLog, "":
		return NewLogSender(log), nil
	case DriverDev:
		return NewDevSender(cfg.DevDir), nil
	case DriverPostmark:
		return NewPostmarkClient(cfg)
	case DriverSES:
		return NewSESSender(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown mail driver %q", ErrInvalidConfig, cfg.Driver)
	}
}
