package sso

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fedgate/fedgate/pkg/audit"
	"github.com/fedgate/fedgate/pkg/observability"
)

// sessionTTL is the lifetime of an authenticated SSO session.
const sessionTTL = 8 * time.Hour

// TokenIssuer mints the platform token pair handed back to the client
// after a successful federation callback.
type TokenIssuer interface {
	IssueTokens(claims TokenClaims) (*TokenPair, error)
}

// ConfigRepository is the configuration lookup the orchestrator
// depends on. Get returns (nil, nil) when no configuration exists.
type ConfigRepository interface {
	Get(ctx context.Context, organizationID string, protocol ProtocolName) (*SSOConfiguration, error)
}

// SessionRepository is the session persistence the orchestrator
// depends on. Get returns (nil, nil) for unknown or expired sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *SSOSession) error
	Get(ctx context.Context, sessionID string) (*SSOSession, error)
	Invalidate(ctx context.Context, sessionID string) error
}

// Orchestrator drives the full authentication lifecycle: initiation,
// callback handling, provisioning, session and token issuance, and
// logout.
type Orchestrator struct {
	registry    *Registry
	configs     ConfigRepository
	sessions    SessionRepository
	provisioner *Provisioner
	tokens      TokenIssuer
	audit       audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewOrchestrator wires the orchestrator. Audit, metrics and logger may
// be nil.
func NewOrchestrator(registry *Registry, configs ConfigRepository, sessions SessionRepository,
	provisioner *Provisioner, tokens TokenIssuer, auditLogger audit.Logger,
	metrics *observability.Metrics, logger *observability.Logger) *Orchestrator {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Orchestrator{
		registry:    registry,
		configs:     configs,
		sessions:    sessions,
		provisioner: provisioner,
		tokens:      tokens,
		audit:       auditLogger,
		metrics:     metrics,
		logger:      logger,
	}
}

// InitiateAuthentication starts a federation flow for the organization.
// A non-nil configOverride bypasses the configuration repository, which
// lets admins test a candidate configuration before saving it.
func (o *Orchestrator) InitiateAuthentication(ctx context.Context, organizationID string, protocol ProtocolName, returnURL string, configOverride *SSOConfiguration) (*InitiationResult, error) {
	handler, err := o.registry.Resolve(protocol)
	if err != nil {
		return nil, err
	}

	config := configOverride
	if config == nil {
		config, err = o.configs.Get(ctx, organizationID, protocol)
		if err != nil {
			return nil, err
		}
		if config == nil {
			return nil, &ConfigurationError{OrganizationID: organizationID, Message: "no " + string(protocol) + " configuration found"}
		}
	}

	result, err := handler.InitiateAuthentication(ctx, organizationID, returnURL, config)
	if err != nil {
		o.countAuthFailure(protocol, "initiation")
		return nil, err
	}

	o.audit.LogEvent(ctx, audit.EventTypeSSOAuthInitiated, "", organizationID, map[string]interface{}{
		"protocol": string(protocol),
		"provider": config.ProviderName,
	})
	if o.metrics != nil {
		o.metrics.SSOAuthInitiatedTotal.WithLabelValues(string(protocol), config.ProviderName).Inc()
	}
	o.logger.WithFields(map[string]interface{}{
		"organization_id": organizationID,
		"protocol":        string(protocol),
	}).Info("sso authentication initiated")
	return result, nil
}

// HandleAuthenticationCallback validates the IdP callback, provisions
// the user, creates a session and issues platform tokens.
func (o *Orchestrator) HandleAuthenticationCallback(ctx context.Context, protocol ProtocolName, callback CallbackData) (*AuthenticationResult, error) {
	handler, err := o.registry.Resolve(protocol)
	if err != nil {
		return nil, err
	}

	cbResult, err := handler.HandleCallback(ctx, callback)
	if err != nil {
		o.countAuthFailure(protocol, "callback")
		o.logger.WithError(err).WithField("protocol", string(protocol)).Warn("sso callback rejected")
		return nil, err
	}
	organizationID := cbResult.OrganizationID

	config, err := o.configs.Get(ctx, organizationID, protocol)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, &ConfigurationError{OrganizationID: organizationID, Message: "no " + string(protocol) + " configuration found"}
	}

	user, err := o.provisioner.ProvisionUser(ctx, cbResult.User, config)
	if err != nil {
		o.countAuthFailure(protocol, "provisioning")
		o.auditAuthFailure(ctx, organizationID, protocol, err)
		return nil, err
	}

	if err := o.provisioner.ValidateUserAccess(ctx, user, config); err != nil {
		o.countAuthFailure(protocol, "access_denied")
		return nil, NewAuthenticationError("User access denied by SSO configuration", err)
	}

	now := time.Now().UTC()
	session := &SSOSession{
		SessionID:      uuid.NewString(),
		UserID:         user.ID,
		OrganizationID: organizationID,
		Protocol:       protocol,
		ProviderName:   config.ProviderName,
		Attributes:     cbResult.Session.Attributes,
		NameID:         cbResult.Session.NameID,
		SessionIndex:   cbResult.Session.SessionIndex,
		CreatedAt:      now,
		ExpiresAt:      now.Add(sessionTTL),
	}
	if err := o.sessions.Create(ctx, session); err != nil {
		o.countAuthFailure(protocol, "session")
		return nil, err
	}

	tokens, err := o.tokens.IssueTokens(TokenClaims{
		UserID:         user.ID,
		OrganizationID: organizationID,
		Email:          user.Email,
		Role:           user.Role,
		SSOSessionID:   session.SessionID,
	})
	if err != nil {
		o.countAuthFailure(protocol, "token")
		return nil, err
	}

	o.audit.LogEvent(ctx, audit.EventTypeSSOAuthSuccess, user.ID, organizationID, map[string]interface{}{
		"protocol":   string(protocol),
		"provider":   config.ProviderName,
		"session_id": session.SessionID,
	})
	if o.metrics != nil {
		o.metrics.SSOAuthSuccessTotal.WithLabelValues(string(protocol), config.ProviderName).Inc()
		o.metrics.SSOSessionsActive.Inc()
	}
	o.logger.WithFields(map[string]interface{}{
		"organization_id": organizationID,
		"user_id":         user.ID,
		"protocol":        string(protocol),
	}).Info("sso authentication succeeded")

	return &AuthenticationResult{
		UserID:         user.ID,
		OrganizationID: organizationID,
		Email:          user.Email,
		Role:           user.Role,
		SessionID:      session.SessionID,
		Tokens:         tokens,
		ReturnURL:      cbResult.ReturnURL,
	}, nil
}

// InitiateLogout terminates the session locally and, when the
// protocol supports single logout and the organization still has a
// configuration, returns the IdP-bound logout redirect. A nil redirect
// with a nil error means the logout was local only.
func (o *Orchestrator) InitiateLogout(ctx context.Context, organizationID, sessionID, returnURL string) (*LogoutRedirect, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.OrganizationID != organizationID {
		return nil, NewAuthenticationError("unknown session", nil)
	}

	if err := o.sessions.Invalidate(ctx, sessionID); err != nil {
		return nil, err
	}

	o.audit.LogEvent(ctx, audit.EventTypeSSOLogoutInitiated, session.UserID, session.OrganizationID, map[string]interface{}{
		"protocol":   string(session.Protocol),
		"session_id": sessionID,
	})
	if o.metrics != nil {
		o.metrics.SSOLogoutTotal.WithLabelValues(string(session.Protocol)).Inc()
		o.metrics.SSOSessionsActive.Dec()
	}

	// The IdP side of logout is best effort: a deleted configuration or
	// a protocol without single logout still leaves the local session
	// terminated.
	config, err := o.configs.Get(ctx, session.OrganizationID, session.Protocol)
	if err != nil || config == nil {
		return nil, nil
	}
	handler, err := o.registry.Resolve(session.Protocol)
	if err != nil {
		return nil, nil
	}
	initiator, ok := handler.(LogoutInitiator)
	if !ok {
		return nil, nil
	}

	redirect, err := initiator.InitiateLogout(ctx, session, config, returnURL)
	if err != nil {
		o.logger.WithError(err).WithField("session_id", sessionID).Warn("idp logout initiation failed")
		return nil, nil
	}
	return redirect, nil
}

// GetSession returns the unexpired session, or nil when unknown.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*SSOSession, error) {
	return o.sessions.Get(ctx, sessionID)
}

func (o *Orchestrator) countAuthFailure(protocol ProtocolName, stage string) {
	if o.metrics != nil {
		o.metrics.SSOAuthFailureTotal.WithLabelValues(string(protocol), stage).Inc()
	}
}

func (o *Orchestrator) auditAuthFailure(ctx context.Context, organizationID string, protocol ProtocolName, cause error) {
	o.audit.LogEvent(ctx, audit.EventTypeSSOAuthFailed, "", organizationID, map[string]interface{}{
		"protocol": string(protocol),
		"error":    cause.Error(),
	})
}
