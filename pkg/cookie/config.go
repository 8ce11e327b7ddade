package cookie

import (
	"net/http"
	"strings"
)

// Config holds cookie manager configuration.
// Secrets is a comma-separated list; the first one encrypts, all of them decrypt.
type Config struct {
	Secrets  string        `env:"COOKIE_SECRETS,required"`
	Domain   string        `env:"COOKIE_DOMAIN" envDefault:""`
	Secure   bool          `env:"COOKIE_SECURE" envDefault:"false"`
	SameSite http.SameSite `env:"COOKIE_SAME_SITE" envDefault:"2"` // 2 = SameSiteLaxMode
}

func (c Config) secrets() []string {
	var out []string
	for _, s := range strings.Split(c.Secrets, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NewFromConfig creates a Manager from Config.
func NewFromConfig(cfg Config, opts ...Option) (*Manager, error) {
	configOpts := []Option{WithSecure(cfg.Secure)}
	if cfg.Domain != "" {
		configOpts = append(configOpts, WithDomain(cfg.Domain))
	}
	if cfg.SameSite != 0 {
		configOpts = append(configOpts, WithSameSite(cfg.SameSite))
	}
	return New(cfg.secrets(), append(configOpts, opts...)...)
}
