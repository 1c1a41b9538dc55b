package resolver

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/provisioner"
	"github.com/platinummonkey/cohort/pkg/verifier"
)

// AccountProvisioner maps verified claims to a local account
type AccountProvisioner interface {
	ResolveOrCreateAccount(ctx context.Context, claims *verifier.ExternalClaims) (*provisioner.Result, error)
}

// LoginRecorder records successful authentications on a mapping
type LoginRecorder interface {
	TouchLastAuthenticated(ctx context.Context, mappingID int64, at time.Time) error
}

// Options configures a ProviderResolver
type Options struct {
	// Strict rejects every verification failure instead of letting tokens
	// that do not look provider-issued fall through as Anonymous.
	Strict  bool
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// ProviderResolver resolves provider-issued bearer tokens to local accounts
type ProviderResolver struct {
	verifier    verifier.Verifier
	provisioner AccountProvisioner
	recorder    LoginRecorder
	strict      bool
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewProviderResolver creates a resolver. recorder may be nil.
func NewProviderResolver(v verifier.Verifier, p AccountProvisioner, recorder LoginRecorder, opts Options) *ProviderResolver {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ProviderResolver{
		verifier:    v,
		provisioner: p,
		recorder:    recorder,
		strict:      opts.Strict,
		logger:      opts.Logger.WithComponent("resolver"),
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
}

// Strict returns a copy of r that never demotes a failed token to Anonymous
func (r *ProviderResolver) Strict() *ProviderResolver {
	cp := *r
	cp.strict = true
	return &cp
}

// Name identifies the strategy in metrics and logs
func (r *ProviderResolver) Name() string {
	if r.strict {
		return "provider_strict"
	}
	return "provider"
}

// Resolve verifies the bearer token and binds the local account
func (r *ProviderResolver) Resolve(ctx context.Context, authHeader string) Outcome {
	return tracked(ctx, r.Name(), r.logger, r.metrics, func(ctx context.Context, span trace.Span) Outcome {
		return r.resolve(ctx, span, authHeader)
	})
}

func (r *ProviderResolver) resolve(ctx context.Context, span trace.Span, authHeader string) Outcome {
	token, ok := ExtractBearer(authHeader)
	if !ok {
		span.AddEvent("no_token")
		return anonymous()
	}

	span.AddEvent("verifying")
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return r.verificationFailed(ctx, token, err)
	}

	res, err := r.provisioner.ResolveOrCreateAccount(ctx, claims)
	if err != nil {
		log := observability.FromContext(ctx, r.logger).WithError(err).WithField("subject", claims.SubjectID)
		if provisioner.KindOf(err) == provisioner.AccountDisabled {
			return Outcome{State: Rejected, Reason: ReasonAccountDisabled, Claims: claims}
		}
		log.Error("account resolution failed")
		return Outcome{State: Rejected, Reason: ReasonResolutionFailed, Claims: claims}
	}

	if res.Mapping != nil && r.recorder != nil {
		if err := r.recorder.TouchLastAuthenticated(ctx, res.Mapping.ID, r.now()); err != nil {
			observability.FromContext(ctx, r.logger).WithError(err).
				WithField("mapping_id", res.Mapping.ID).
				Warn("failed to record last authentication")
		}
	}

	return Outcome{
		State:   Resolved,
		Account: res.Account,
		Claims:  claims,
		Mapping: res.Mapping,
		Path:    res.Path,
	}
}

func (r *ProviderResolver) verificationFailed(ctx context.Context, token string, err error) Outcome {
	switch verifier.KindOf(err) {
	case verifier.Expired:
		return rejected(ReasonTokenExpired)
	case verifier.ProviderUnavailable:
		observability.FromContext(ctx, r.logger).WithError(err).Error("identity provider unavailable")
		return rejected(ReasonServiceError)
	}

	// Malformed or invalid: only claim the token when it is provider-shaped,
	// so other strategies can still try application tokens.
	if r.strict || verifier.LooksLikeProviderToken(token) {
		return rejected(ReasonTokenInvalid)
	}
	return anonymous()
}
