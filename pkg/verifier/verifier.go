package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/cohort/pkg/observability"
)

// ExternalClaims is the verified identity asserted by the provider
type ExternalClaims struct {
	SubjectID string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// Verifier validates a provider access token
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*ExternalClaims, error)
}

// Pinger is implemented by verifiers that can check provider reachability
// for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type options struct {
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *observability.Logger
	now        func() time.Time
}

// Option configures a verifier
type Option func(*options)

// WithHTTPClient sets the client used for provider calls
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithMetrics records verification and key-set fetch metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the time source used for claim validation
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = observability.NopLogger()
	}
	return o
}

// New builds the verifier selected by cfg.Mode. The returned verifier records
// metrics for every call.
func New(cfg Config, opts ...Option) (Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	o := buildOptions(opts)

	var v Verifier
	switch cfg.Mode {
	case ModeSharedSecret:
		v = NewSharedSecret(cfg, opts...)
	case ModeJWKS:
		v = NewKeySet(cfg, opts...)
	case ModeIntrospection:
		v = NewIntrospection(cfg, opts...)
	}

	return &instrumented{next: v, mode: cfg.Mode, metrics: o.metrics}, nil
}

type instrumented struct {
	next    Verifier
	mode    Mode
	metrics *observability.Metrics
}

func (i *instrumented) Verify(ctx context.Context, rawToken string) (*ExternalClaims, error) {
	start := time.Now()
	claims, err := i.next.Verify(ctx, rawToken)

	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	i.metrics.ObserveVerification(string(i.mode), result, time.Since(start))

	return claims, err
}

func (i *instrumented) Ping(ctx context.Context) error {
	if p, ok := i.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// checkShape rejects anything that is not three non-empty dot-separated
// segments before any crypto or network work.
func checkShape(rawToken string) error {
	if rawToken == "" {
		return newError(Malformed, errors.New("empty token"))
	}
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return newError(Malformed, fmt.Errorf("expected 3 segments, got %d", len(parts)))
	}
	for _, p := range parts {
		if p == "" {
			return newError(Malformed, errors.New("empty token segment"))
		}
	}
	return nil
}

// providerClaims is the JWT body issued by the provider
type providerClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (c *providerClaims) external() (*ExternalClaims, error) {
	if c.Subject == "" {
		return nil, newError(InvalidSignatureOrClaims, errors.New("missing sub claim"))
	}
	ext := &ExternalClaims{
		SubjectID: c.Subject,
		Email:     c.Email,
		Role:      c.Role,
	}
	if c.ExpiresAt != nil {
		ext.ExpiresAt = c.ExpiresAt.Time
	}
	return ext, nil
}

// classify maps a jwt parse error onto the failure taxonomy
func classify(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newError(Expired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newError(Malformed, err)
	case errors.Is(err, ErrProviderUnavailable):
		return newError(ProviderUnavailable, err)
	default:
		return newError(InvalidSignatureOrClaims, err)
	}
}

func newParser(cfg Config, methods []string, now func() time.Time) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods(methods),
		jwt.WithAudience(cfg.audience()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(now),
	)
}

// UnverifiedClaims decodes the token body without checking the signature. It
// is only suitable for deciding how to report a failure, never for trust.
func UnverifiedClaims(rawToken string) (jwt.MapClaims, error) {
	if err := checkShape(rawToken); err != nil {
		return nil, err
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, newError(Malformed, err)
	}
	return claims, nil
}

// LooksLikeProviderToken reports whether the token body carries a subject,
// which is how provider-issued tokens are told apart from other bearer tokens.
func LooksLikeProviderToken(rawToken string) bool {
	claims, err := UnverifiedClaims(rawToken)
	if err != nil {
		return false
	}
	sub, _ := claims["sub"].(string)
	return sub != ""
}
