package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLogger appends audit events to a newline-delimited JSON file
type FileLogger struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewFileLogger opens path for appending, creating its directory
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileLogger{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Log writes event as one JSON line
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log file is closed")
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// LogAuthentication logs an authentication event
func (l *FileLogger) LogAuthentication(ctx context.Context, eventType EventType, accountID *int64, subject string, status EventStatus, message string) error {
	return l.Log(ctx, authenticationEvent(ctx, eventType, accountID, subject, status, message))
}

// LogAdminAction logs an admin action event
func (l *FileLogger) LogAdminAction(ctx context.Context, eventType EventType, adminID *int64, resourceType ResourceType, resourceID string, message string) error {
	return l.Log(ctx, adminEvent(ctx, eventType, adminID, resourceType, resourceID, message))
}

// Close syncs and closes the file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		l.file = nil
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs returns up to limit events from the start of the file
func (l *FileLogger) ReadLogs(limit int) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() && len(events) < limit {
		event, err := FromJSON(scanner.Bytes())
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
