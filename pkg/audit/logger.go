package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/cohort/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogAuthentication logs an authentication event for an account or subject
	LogAuthentication(ctx context.Context, eventType EventType, accountID *int64, subject string, status EventStatus, message string) error

	// LogAdminAction logs an action a staff account took on a resource
	LogAdminAction(ctx context.Context, eventType EventType, adminID *int64, resourceType ResourceType, resourceID string, message string) error

	// Close flushes and releases the logger
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context. A no-op logger is
// returned when none is set.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return NopLogger()
}

// Middleware makes logger available to handlers through FromContext
func Middleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithLogger(r.Context(), logger)))
		})
	}
}

// NopLogger returns a logger that discards every event
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Log(ctx context.Context, event *Event) error { return nil }

func (nopLogger) LogAuthentication(ctx context.Context, eventType EventType, accountID *int64, subject string, status EventStatus, message string) error {
	return nil
}

func (nopLogger) LogAdminAction(ctx context.Context, eventType EventType, adminID *int64, resourceType ResourceType, resourceID string, message string) error {
	return nil
}

func (nopLogger) Close() error { return nil }

// newEvent creates an event stamped with the time and request id
func newEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

func authenticationEvent(ctx context.Context, eventType EventType, accountID *int64, subject string, status EventStatus, message string) *Event {
	event := newEvent(ctx, eventType, status)
	event.AccountID = accountID
	event.Subject = subject
	event.Message = message
	event.ResourceType = ResourceTypeAccount
	if accountID != nil {
		event.ResourceID = strconv.FormatInt(*accountID, 10)
	}
	return event
}

func adminEvent(ctx context.Context, eventType EventType, adminID *int64, resourceType ResourceType, resourceID string, message string) *Event {
	event := newEvent(ctx, eventType, EventStatusSuccess)
	event.AccountID = adminID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return event
}
