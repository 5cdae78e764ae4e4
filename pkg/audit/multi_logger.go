package audit

import "context"

// MultiLogger fans events out to several sinks. A failing sink does
// not prevent delivery to the others; the first error is returned.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a fan-out sink.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// LogEvent delivers the event to every sink.
func (m *MultiLogger) LogEvent(ctx context.Context, eventType EventType, userID, organizationID string, details map[string]interface{}) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.LogEvent(ctx, eventType, userID, organizationID, details); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink.
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
