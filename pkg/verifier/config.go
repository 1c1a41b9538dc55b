package verifier

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how provider tokens are verified. Exactly one mode is active per
// deployment.
type Mode string

const (
	ModeSharedSecret  Mode = "shared_secret"
	ModeJWKS          Mode = "jwks"
	ModeIntrospection Mode = "introspection"
)

// DefaultAudience is the audience the provider stamps on user access tokens.
const DefaultAudience = "authenticated"

// Config holds identity provider settings
type Config struct {
	Mode Mode `yaml:"mode"`

	// URL is the provider project base URL, e.g. https://abc.provider.example
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	// shared_secret
	JWTSecret string `yaml:"jwt_secret"`

	// jwks
	JWKSURL          string        `yaml:"jwks_url"`
	KeySetTTL        time.Duration `yaml:"keyset_ttl"`
	KeySetMinRefresh time.Duration `yaml:"keyset_min_refresh"`
	Algorithms       []string      `yaml:"algorithms"`

	Audience string        `yaml:"audience"`
	Leeway   time.Duration `yaml:"leeway"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns provider defaults. Mode-specific secrets and URLs
// must still be supplied.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeJWKS,
		KeySetTTL:        10 * time.Minute,
		KeySetMinRefresh: 30 * time.Second,
		Algorithms:       []string{"ES256", "RS256"},
		Audience:         DefaultAudience,
		Leeway:           5 * time.Second,
		Timeout:          5 * time.Second,
	}
}

// Validate checks the settings required by the selected mode
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	switch c.Mode {
	case ModeSharedSecret:
		if c.JWTSecret == "" {
			return fmt.Errorf("jwt_secret is required for mode %s", c.Mode)
		}
	case ModeJWKS:
		if c.JWKSURL == "" && c.URL == "" {
			return fmt.Errorf("url or jwks_url is required for mode %s", c.Mode)
		}
		if c.KeySetTTL <= 0 {
			return fmt.Errorf("keyset_ttl must be positive")
		}
		if len(c.Algorithms) == 0 {
			return fmt.Errorf("at least one algorithm is required for mode %s", c.Mode)
		}
	case ModeIntrospection:
		if c.URL == "" || c.APIKey == "" {
			return fmt.Errorf("url and api_key are required for mode %s", c.Mode)
		}
	default:
		return fmt.Errorf("invalid mode: %q (must be shared_secret, jwks or introspection)", c.Mode)
	}

	return nil
}

func (c Config) audience() string {
	if c.Audience == "" {
		return DefaultAudience
	}
	return c.Audience
}

func (c Config) baseURL() string {
	return strings.TrimRight(c.URL, "/")
}

func (c Config) keySetURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return c.baseURL() + "/auth/v1/jwks"
}
