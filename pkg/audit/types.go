package audit

import (
	"encoding/json"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// SSO flow events.
	EventTypeSSOAuthInitiated EventType = "sso_authentication_initiated"
	EventTypeSSOAuthSuccess   EventType = "sso_authentication_success"
	EventTypeSSOAuthFailed    EventType = "sso_authentication_failed"
	EventTypeSSOLogoutInitiated EventType = "sso_logout_initiated"
	EventTypeSSOAccessDenied  EventType = "sso_access_denied"

	// Provisioning events.
	EventTypeUserCreated EventType = "user_created"
	EventTypeUserUpdated EventType = "user_updated"
	EventTypeUserLogin   EventType = "user_login"

	// Configuration events.
	EventTypeSSOConfigUpdated EventType = "sso_configuration_updated"
	EventTypeSSOConfigDeleted EventType = "sso_configuration_deleted"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	UserID         string                 `json:"user_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
