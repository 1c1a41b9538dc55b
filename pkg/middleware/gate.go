package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/contextkeys"
	"github.com/platinummonkey/cohort/pkg/httputil"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/resolver"
)

const (
	// CodeNotAuthenticated is returned when a required endpoint gets no credential
	CodeNotAuthenticated = "not_authenticated"

	detailNotAuthenticated = "Authentication credentials were not provided."
	wwwAuthenticate        = `Bearer realm="api"`
)

// Gate authenticates inbound requests through a resolver strategy
type Gate struct {
	strategy resolver.Strategy
	bypass   []string
	logger   *observability.Logger
}

// NewGate creates a gate. Requests whose path starts with one of the bypass
// prefixes skip resolution entirely.
func NewGate(strategy resolver.Strategy, bypass []string, logger *observability.Logger) *Gate {
	if logger == nil {
		logger = observability.NopLogger()
	}
	prefixes := make([]string, 0, len(bypass))
	for _, p := range bypass {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Gate{
		strategy: strategy,
		bypass:   prefixes,
		logger:   logger.WithComponent("gate"),
	}
}

// Bypassed reports whether path skips the gate
func (g *Gate) Bypassed(path string) bool {
	for _, p := range g.bypass {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Required rejects every request that does not resolve to an account
func (g *Gate) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Bypassed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		out := g.strategy.Resolve(r.Context(), r.Header.Get("Authorization"))
		switch out.State {
		case resolver.Resolved:
			next.ServeHTTP(w, r.WithContext(bind(r.Context(), out)))
		case resolver.Rejected:
			Unauthorized(w, out.Reason)
		default:
			Unauthorized(w, resolver.ReasonNone)
		}
	})
}

// Optional lets every request through. Only resolved accounts are bound; the
// outcome is always attached so handlers can inspect a rejection.
func (g *Gate) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Bypassed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		out := g.strategy.Resolve(r.Context(), r.Header.Get("Authorization"))
		if out.State == resolver.Rejected {
			observability.FromContext(r.Context(), g.logger).
				WithField("reason", string(out.Reason)).
				Debug("continuing without account")
		}
		next.ServeHTTP(w, r.WithContext(bind(r.Context(), out)))
	})
}

func bind(ctx context.Context, out resolver.Outcome) context.Context {
	ctx = contextkeys.WithOutcome(ctx, out)
	if out.IsResolved() {
		ctx = contextkeys.WithAccount(ctx, out.Account)
		ctx = contextkeys.WithAccountID(ctx, strconv.FormatInt(out.Account.ID, 10))
	}
	return ctx
}

// Unauthorized writes the 401 body for reason. ReasonNone means no credential
// was presented.
func Unauthorized(w http.ResponseWriter, reason resolver.Reason) {
	w.Header().Set("WWW-Authenticate", wwwAuthenticate)
	if reason == resolver.ReasonNone {
		httputil.WriteProblem(w, http.StatusUnauthorized, detailNotAuthenticated, CodeNotAuthenticated)
		return
	}
	httputil.WriteProblem(w, http.StatusUnauthorized, reason.Detail(), string(reason))
}

// AccountFromContext returns the account bound by the gate
func AccountFromContext(ctx context.Context) (*accounts.Account, bool) {
	account, ok := ctx.Value(contextkeys.AccountKey).(*accounts.Account)
	return account, ok && account != nil
}

// OutcomeFromContext returns the resolution outcome attached by the gate
func OutcomeFromContext(ctx context.Context) (resolver.Outcome, bool) {
	out, ok := ctx.Value(contextkeys.OutcomeKey).(resolver.Outcome)
	return out, ok
}

// RequireStaff returns 403 unless the bound account is staff. It must run
// behind Required or Optional.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			Unauthorized(w, resolver.ReasonNone)
			return
		}
		if !account.IsStaff {
			httputil.WriteForbidden(w, "You do not have permission to perform this action.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
