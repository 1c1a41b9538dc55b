package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthTokenRejected  EventType = "auth.token_rejected"
	EventTypeAuthAccountLinked  EventType = "auth.account_linked"
	EventTypeAuthAccountCreated EventType = "auth.account_created"

	// Admin events
	EventTypeAdminMappingDeactivate EventType = "admin.mapping_deactivate"
	EventTypeAdminRealtimePublish   EventType = "admin.realtime_publish"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event touched
type ResourceType string

const (
	ResourceTypeAccount ResourceType = "account"
	ResourceTypeMapping ResourceType = "mapping"
	ResourceTypeGroup   ResourceType = "group"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	AccountID *int64 `json:"account_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Reason    string `json:"reason,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}
