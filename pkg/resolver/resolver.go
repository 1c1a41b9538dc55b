package resolver

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/cohort/pkg/audit"
	"github.com/platinummonkey/cohort/pkg/contextkeys"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/provisioner"
)

// Strategy turns an Authorization header value into an Outcome. Anonymous
// means the strategy does not claim the credential.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, authHeader string) Outcome
}

// Chain tries strategies in order. The first outcome that is not Anonymous
// wins. A bearer token that no strategy claims is rejected as invalid.
type Chain struct {
	strategies []Strategy
}

// NewChain builds a chain; nil strategies are skipped
func NewChain(strategies ...Strategy) *Chain {
	c := &Chain{}
	for _, s := range strategies {
		if !disabled(s) {
			c.strategies = append(c.strategies, s)
		}
	}
	return c
}

// disabled reports nil strategies, including typed nils from constructors
// that return nil when unconfigured
func disabled(s Strategy) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *LocalTokenStrategy:
		return v == nil
	case *ProviderResolver:
		return v == nil
	}
	return false
}

// Name returns the strategy names joined with '+'
func (c *Chain) Name() string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Resolve runs each strategy until one claims the credential
func (c *Chain) Resolve(ctx context.Context, authHeader string) Outcome {
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return rejected(ReasonServiceError)
		}
		out := s.Resolve(ctx, authHeader)
		if out.State != Anonymous {
			return out
		}
	}

	if _, ok := ExtractBearer(authHeader); !ok {
		return anonymous()
	}
	out := rejected(ReasonTokenInvalid)
	out.Strategy = c.Name()
	recordAudit(ctx, observability.FromContext(ctx, observability.NopLogger()), out)
	return out
}

// ExtractBearer returns the token from "Bearer <token>". The scheme is
// matched case-insensitively.
func ExtractBearer(authHeader string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// tracked wraps one strategy run with a span, a metric and a log line
func tracked(ctx context.Context, name string, logger *observability.Logger, metrics *observability.Metrics,
	fn func(ctx context.Context, span trace.Span) Outcome) Outcome {
	ctx, span := observability.Tracer().Start(ctx, "resolver."+name,
		trace.WithAttributes(attribute.String("resolver.strategy", name)))
	defer span.End()

	start := time.Now()
	out := fn(ctx, span)
	out.Strategy = name
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("resolver.state", string(out.State)),
		attribute.String("resolver.reason", string(out.Reason)),
	)
	if out.Reason == ReasonServiceError || out.Reason == ReasonResolutionFailed {
		span.SetStatus(codes.Error, string(out.Reason))
	}
	metrics.ObserveResolution(name, string(out.State), string(out.Reason), elapsed)

	log := observability.FromContext(ctx, logger).WithFields(map[string]interface{}{
		"strategy":    name,
		"state":       string(out.State),
		"duration_ms": elapsed.Milliseconds(),
	})
	switch out.State {
	case Anonymous:
		log.Debug("no credential claimed")
	case Resolved:
		log.WithField("account_id", out.Account.ID).Debug("token resolved")
	case Rejected:
		log.WithField("reason", string(out.Reason)).Warn("token rejected")
	}
	recordAudit(ctx, log, out)

	return out
}

// recordAudit writes rejections and first logins to the audit log. A failed
// write is logged and never changes the outcome.
func recordAudit(ctx context.Context, log *observability.Logger, out Outcome) {
	var (
		eventType audit.EventType
		status    audit.EventStatus
		message   string
	)
	switch {
	case out.State == Rejected:
		eventType, status, message = audit.EventTypeAuthTokenRejected, audit.EventStatusFailure, out.Reason.Detail()
		if out.Reason == ReasonAccountDisabled {
			status = audit.EventStatusDenied
		}
	case out.State == Resolved && out.Path == provisioner.PathLinked:
		eventType, status, message = audit.EventTypeAuthAccountLinked, audit.EventStatusSuccess, "external identity linked to existing account"
	case out.State == Resolved && out.Path == provisioner.PathCreated:
		eventType, status, message = audit.EventTypeAuthAccountCreated, audit.EventStatusSuccess, "local account created for external identity"
	default:
		return
	}

	event := &audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Strategy:  out.Strategy,
		Reason:    string(out.Reason),
		RequestID: contextkeys.GetRequestID(ctx),
		Message:   message,
	}
	if out.Claims != nil {
		event.Subject = out.Claims.SubjectID
	}
	if out.Account != nil {
		id := out.Account.ID
		event.AccountID = &id
		event.Username = out.Account.Username
		event.ResourceType = audit.ResourceTypeAccount
		event.ResourceID = strconv.FormatInt(id, 10)
	}

	if err := audit.FromContext(ctx).Log(ctx, event); err != nil {
		log.WithError(err).Warn("failed to write audit event")
	}
}
