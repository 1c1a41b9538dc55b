package audit

import (
	"context"
	"errors"
)

// MultiLogger logs to several audit loggers. Every destination is tried even
// when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every non-nil logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log logs event to all destinations and returns the first error
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogAuthentication logs an authentication event
func (m *MultiLogger) LogAuthentication(ctx context.Context, eventType EventType, accountID *int64, subject string, status EventStatus, message string) error {
	return m.Log(ctx, authenticationEvent(ctx, eventType, accountID, subject, status, message))
}

// LogAdminAction logs an admin action event
func (m *MultiLogger) LogAdminAction(ctx context.Context, eventType EventType, adminID *int64, resourceType ResourceType, resourceID string, message string) error {
	return m.Log(ctx, adminEvent(ctx, eventType, adminID, resourceType, resourceID, message))
}

// Close closes every destination
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
