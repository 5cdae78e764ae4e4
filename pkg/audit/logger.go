package audit

import (
	"context"
	"time"
)

// Logger is the audit sink consumed by the SSO engine.
type Logger interface {
	// LogEvent records an audit event. UserID and organizationID may be
	// empty when unknown at the time of the event.
	LogEvent(ctx context.Context, eventType EventType, userID, organizationID string, details map[string]interface{}) error

	// Close flushes and releases the sink.
	Close() error
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, userID, organizationID string, details map[string]interface{}) *Event {
	return &Event{
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		UserID:         userID,
		OrganizationID: organizationID,
		Details:        details,
	}
}

// NopLogger discards all events. Used when no sink is configured.
type NopLogger struct{}

func (NopLogger) LogEvent(ctx context.Context, eventType EventType, userID, organizationID string, details map[string]interface{}) error {
	return nil
}

func (NopLogger) Close() error { return nil }
