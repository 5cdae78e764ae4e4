package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// requestStateTTL bounds how long an initiated flow may wait for its
// callback. An expired state is indistinguishable from one that never
// existed.
const requestStateTTL = 600 * time.Second

// Protocol is the contract shared by all federation protocol handlers.
type Protocol interface {
	// Name returns the protocol identifier ("saml", "oidc").
	Name() ProtocolName

	// RequiredConfigFields lists the configuration keys that must be
	// present for this protocol.
	RequiredConfigFields() []string

	// ValidateConfiguration checks presence and well-formedness of the
	// protocol's configuration. It returns a ValidationError naming the
	// first offending field.
	ValidateConfiguration(config map[string]string) error

	// InitiateAuthentication starts a federation flow and returns the
	// IdP redirect material.
	InitiateAuthentication(ctx context.Context, organizationID, returnURL string, config *SSOConfiguration) (*InitiationResult, error)

	// HandleCallback validates the IdP callback and returns the mapped
	// user together with protocol session data.
	HandleCallback(ctx context.Context, callback CallbackData) (*CallbackResult, error)
}

// LogoutInitiator is implemented by protocols that support IdP-side
// single logout. The orchestrator falls back to local-only logout when
// a handler does not implement it.
type LogoutInitiator interface {
	InitiateLogout(ctx context.Context, session *SSOSession, config *SSOConfiguration, returnURL string) (*LogoutRedirect, error)
}

// Registry resolves protocol handlers by name. It is built once at
// service start and injected into the orchestrator.
type Registry struct {
	handlers map[ProtocolName]Protocol
}

// NewRegistry builds a registry from the given handlers.
func NewRegistry(handlers ...Protocol) *Registry {
	m := make(map[ProtocolName]Protocol, len(handlers))
	for _, h := range handlers {
		m[h.Name()] = h
	}
	return &Registry{handlers: m}
}

// Resolve returns the handler for the named protocol. Unknown names
// are a ValidationError.
func (r *Registry) Resolve(name ProtocolName) (Protocol, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, NewValidationError("protocol", fmt.Sprintf("unsupported protocol %q", name))
	}
	return h, nil
}

// Protocols lists the registered protocol names.
func (r *Registry) Protocols() []ProtocolName {
	names := make([]ProtocolName, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Cache is the short-lived key/value collaborator used for request
// state and JWKS documents. GetDelete must consume atomically so that
// two callbacks racing on the same state key cannot both observe it.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	GetDelete(ctx context.Context, key string) (string, bool, error)
}

// storeRequestState serializes and caches an authentication request
// state under the given key.
func storeRequestState(ctx context.Context, cache Cache, key string, state *AuthenticationRequestState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal request state: %w", err)
	}
	if err := cache.Set(ctx, key, string(data), requestStateTTL); err != nil {
		return fmt.Errorf("failed to store request state: %w", err)
	}
	return nil
}

// consumeRequestState atomically removes and returns the cached state.
// A missing key means the flow expired, was never initiated, or was
// already consumed; all three fail identically.
func consumeRequestState(ctx context.Context, cache Cache, key string) (*AuthenticationRequestState, error) {
	data, ok, err := cache.GetDelete(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to consume request state: %w", err)
	}
	if !ok {
		return nil, NewAuthenticationError("unknown or expired authentication request", nil)
	}
	var state AuthenticationRequestState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, NewAuthenticationError("corrupt authentication request state", err)
	}
	return &state, nil
}

// requireConfigFields checks presence of every named field and returns
// a ValidationError for the first one missing.
func requireConfigFields(config map[string]string, fields []string) error {
	for _, field := range fields {
		if config[field] == "" {
			return NewValidationError(field, "required configuration field is missing")
		}
	}
	return nil
}

// requireHTTPURL validates that the named field holds an absolute
// http or https URL.
func requireHTTPURL(config map[string]string, field string) error {
	raw := config[field]
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError(field, "must be an absolute http or https URL")
	}
	return nil
}
