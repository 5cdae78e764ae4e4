package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SessionStore persists SSO sessions.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a session repository over the given database
// handle.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create persists a new session.
func (s *SessionStore) Create(ctx context.Context, session *SSOSession) error {
	attrsJSON, err := json.Marshal(session.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal session attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sso_sessions (
			session_id, user_id, organization_id, protocol, provider_name,
			attributes, name_id, session_index, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, session.SessionID, session.UserID, session.OrganizationID,
		string(session.Protocol), session.ProviderName, attrsJSON,
		session.NameID, session.SessionIndex, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create sso session: %w", err)
	}
	return nil
}

// Get returns the unexpired session with the given id, or nil when it
// does not exist.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*SSOSession, error) {
	var (
		session   SSOSession
		attrsJSON []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, organization_id, protocol, provider_name,
			attributes, name_id, session_index, created_at, expires_at
		FROM sso_sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID).Scan(
		&session.SessionID, &session.UserID, &session.OrganizationID,
		&session.Protocol, &session.ProviderName, &attrsJSON,
		&session.NameID, &session.SessionIndex, &session.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sso session: %w", err)
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &session.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session attributes: %w", err)
		}
	}
	return &session, nil
}

// Invalidate removes the session.
func (s *SessionStore) Invalidate(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sso_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to invalidate sso session: %w", err)
	}
	return nil
}

// SweepExpired removes sessions past their expiry and reports how many
// were deleted. Scheduled periodically by the service entrypoint.
func (s *SessionStore) SweepExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sso_sessions WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	return result.RowsAffected()
}
