package sso

import (
	"strconv"
	"strings"
	"time"
)

// ProtocolName identifies a federation protocol.
type ProtocolName string

const (
	ProtocolSAML ProtocolName = "saml"
	ProtocolOIDC ProtocolName = "oidc"
)

// Well-known provider names used for preset attribute mappings.
const (
	ProviderOkta    = "okta"
	ProviderAzureAD = "azuread"
	ProviderGoogle  = "google"
	ProviderGeneric = "generic"
)

// SSOConfiguration is the per-organization, per-protocol federation
// configuration. Config holds protocol-specific keys in their stored
// string form; protocol handlers parse them into typed settings at the
// boundary and fail fast on missing or malformed values.
type SSOConfiguration struct {
	OrganizationID   string              `json:"organization_id"`
	Protocol         ProtocolName        `json:"protocol"`
	ProviderName     string              `json:"provider_name"`
	Config           map[string]string   `json:"config"`
	AttributeMapping map[string][]string `json:"attribute_mapping,omitempty"`
	JITProvisioning  bool                `json:"jit_provisioning"`
	DefaultRole      string              `json:"default_role"`
	AllowedDomains   []string            `json:"allowed_domains,omitempty"`
	AllowedRoles     []string            `json:"allowed_roles,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	DeletedAt        *time.Time          `json:"deleted_at,omitempty"`
}

// ConfigBool reads a boolean config key. Absent or unparseable values
// are false.
func (c *SSOConfiguration) ConfigBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(c.Config[key]))
	if err != nil {
		return false
	}
	return v
}

// SSOSession is an authenticated federation session. SessionID is
// opaque to the client and globally unique.
type SSOSession struct {
	SessionID      string                 `json:"session_id"`
	UserID         string                 `json:"user_id"`
	OrganizationID string                 `json:"organization_id"`
	Protocol       ProtocolName           `json:"protocol"`
	ProviderName   string                 `json:"provider_name"`
	Attributes     map[string]interface{} `json:"attributes,omitempty"`
	NameID         string                 `json:"name_id,omitempty"`
	SessionIndex   string                 `json:"session_index,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
}

// AuthenticationRequestState is the ephemeral state tying an initiated
// request to its callback. It lives in the cache under the state or
// relay-state key and must be consumed exactly once.
type AuthenticationRequestState struct {
	OrganizationID string            `json:"organization_id"`
	ReturnURL      string            `json:"return_url"`
	RequestID      string            `json:"request_id"`
	Nonce          string            `json:"nonce,omitempty"`
	IssuedAt       time.Time         `json:"issued_at"`
	Config         *SSOConfiguration `json:"config"`
}

// UserProvisioningData is the canonical mapped user record produced by
// the attribute mapper and consumed by the provisioner. Email is
// mandatory.
type UserProvisioningData struct {
	Email       string                 `json:"email"`
	FirstName   string                 `json:"first_name,omitempty"`
	LastName    string                 `json:"last_name,omitempty"`
	DisplayName string                 `json:"display_name,omitempty"`
	Subject     string                 `json:"subject,omitempty"`
	Raw         map[string]interface{} `json:"raw,omitempty"`
}

// InitiationResult is the outcome of initiating an authentication
// flow. The caller redirects the browser to RedirectURL; RequestBody
// carries the base64 request blob for POST bindings.
type InitiationResult struct {
	RedirectURL string `json:"redirect_url"`
	RequestBody string `json:"request_body,omitempty"`
	RelayState  string `json:"relay_state,omitempty"`
}

// CallbackData is the raw callback payload as delivered by the thin
// HTTP layer: form or query fields keyed by parameter name.
type CallbackData map[string]string

// SessionData is the protocol-specific session material extracted from
// a successful callback.
type SessionData struct {
	NameID       string                 `json:"name_id,omitempty"`
	SessionIndex string                 `json:"session_index,omitempty"`
	AccessToken  string                 `json:"access_token,omitempty"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	IDToken      string                 `json:"id_token,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
}

// CallbackResult is the outcome of a validated callback.
type CallbackResult struct {
	User           *UserProvisioningData `json:"user"`
	Session        SessionData           `json:"session"`
	ReturnURL      string                `json:"return_url,omitempty"`
	OrganizationID string                `json:"organization_id"`
}

// LogoutRedirect carries the IdP-bound single-logout request. A nil
// LogoutRedirect means only the local session was terminated.
type LogoutRedirect struct {
	RedirectURL string `json:"redirect_url"`
	RequestBody string `json:"request_body,omitempty"`
}

// TokenClaims is the payload bound into an issued platform token pair.
type TokenClaims struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	SSOSessionID   string `json:"sso_session_id"`
}

// TokenPair is an access/refresh token pair issued after a successful
// authentication.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthenticationResult is the terminal success result of a callback
// flow.
type AuthenticationResult struct {
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	SessionID      string     `json:"session_id"`
	Tokens         *TokenPair `json:"tokens"`
	ReturnURL      string     `json:"return_url,omitempty"`
}
