// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/cohort/pkg/contextkeys"
//	ctx = contextkeys.WithAccount(ctx, account)
//	account, _ := ctx.Value(contextkeys.AccountKey).(*accounts.Account)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AccountKey contains *accounts.Account
	// Set by: middleware.Gate (pkg/middleware/gate.go) on a resolved outcome
	// Required by: Protected API endpoints, RequireStaff
	// Type: *accounts.Account
	AccountKey Key = "account"

	// OutcomeKey contains the resolver.Outcome produced for the request
	// Set by: middleware.Gate for every gated request, resolved or not
	// Used by: Optional-mode handlers that want the rejection reason
	// Type: resolver.Outcome
	OutcomeKey Key = "resolution_outcome"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// AccountIDKey contains the local account ID as a string
	// Set by: middleware.Gate after successful resolution
	// Used by: Logger
	// Type: string
	AccountIDKey Key = "account_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains the audit.Logger for the request
	// Set by: audit.Middleware
	// Used by: resolver strategies, admin handlers
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"
)

// WithAccount adds the resolved local account to the context
func WithAccount(ctx context.Context, account interface{}) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

// WithOutcome adds the resolution outcome to the context
func WithOutcome(ctx context.Context, outcome interface{}) context.Context {
	return context.WithValue(ctx, OutcomeKey, outcome)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAccountID adds the account ID to the context
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetAccountID retrieves the account ID from context
func GetAccountID(ctx context.Context) string {
	if accountID, ok := ctx.Value(AccountIDKey).(string); ok {
		return accountID
	}
	return ""
}
