package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/cohort/pkg/storage"
)

// DBLogger writes audit events to the audit_events table created by
// storage.Migrate
type DBLogger struct {
	db storage.DBTX
}

// NewDBLogger creates a new database-backed audit logger
func NewDBLogger(db storage.DBTX) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata sql.NullString
	if event.Metadata != nil {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	var accountID sql.NullInt64
	if event.AccountID != nil {
		accountID = sql.NullInt64{Int64: *event.AccountID, Valid: true}
	}

	err := l.db.QueryRowContext(ctx,
		`INSERT INTO audit_events (
			timestamp, event_type, status,
			account_id, username, subject, strategy, reason,
			resource_type, resource_id, request_id, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		event.Timestamp, string(event.EventType), string(event.Status),
		accountID, event.Username, event.Subject, event.Strategy, event.Reason,
		string(event.ResourceType), event.ResourceID, event.RequestID, event.Message, metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// LogAuthentication logs an authentication event
func (l *DBLogger) LogAuthentication(ctx context.Context, eventType EventType, accountID *int64, subject string, status EventStatus, message string) error {
	return l.Log(ctx, authenticationEvent(ctx, eventType, accountID, subject, status, message))
}

// LogAdminAction logs an admin action event
func (l *DBLogger) LogAdminAction(ctx context.Context, eventType EventType, adminID *int64, resourceType ResourceType, resourceID string, message string) error {
	return l.Log(ctx, adminEvent(ctx, eventType, adminID, resourceType, resourceID, message))
}

// Close is a no-op; the pool belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

// Recent returns the newest events first, up to limit
func (l *DBLogger) Recent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, status, account_id, username, subject, strategy, reason,
		        resource_type, resource_id, request_id, message, metadata
		 FROM audit_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e            Event
			eventType    string
			status       string
			resourceType string
			accountID    sql.NullInt64
			metadata     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &status, &accountID, &e.Username, &e.Subject,
			&e.Strategy, &e.Reason, &resourceType, &e.ResourceID, &e.RequestID, &e.Message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Status = EventStatus(status)
		e.ResourceType = ResourceType(resourceType)
		if accountID.Valid {
			id := accountID.Int64
			e.AccountID = &id
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
