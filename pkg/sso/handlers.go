package sso

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fedgate/fedgate/pkg/observability"
)

// Handlers is the thin HTTP layer over the SSO engine. Protocol logic
// lives entirely in the orchestrator and protocol handlers; these
// functions only translate between HTTP and engine types.
type Handlers struct {
	orchestrator *Orchestrator
	configs      *ConfigStore
	registry     *Registry
	saml         *SAMLProtocol
	oidc         *OIDCProtocol
	certs        *CertificateManager
	logger       *observability.Logger
}

// NewHandlers wires the HTTP layer.
func NewHandlers(orchestrator *Orchestrator, configs *ConfigStore, registry *Registry,
	saml *SAMLProtocol, oidcHandler *OIDCProtocol, certs *CertificateManager,
	logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		orchestrator: orchestrator,
		configs:      configs,
		registry:     registry,
		saml:         saml,
		oidc:         oidcHandler,
		certs:        certs,
		logger:       logger,
	}
}

// RegisterRoutes mounts all SSO routes on one router. Deployments that
// want different middleware on the two surfaces use the split
// variants.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	h.RegisterPublicRoutes(r)
	h.RegisterAdminRoutes(r)
}

// RegisterPublicRoutes mounts the browser-facing federation endpoints.
// SP metadata stays public so identity providers can fetch it.
func (h *Handlers) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/sso/{protocol}/initiate", h.InitiateAuthentication).Methods(http.MethodPost)
	r.HandleFunc("/sso/{protocol}/callback", h.HandleCallback).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/sso/logout", h.InitiateLogout).Methods(http.MethodPost)
	r.HandleFunc("/orgs/{organization_id}/sso/saml/metadata", h.ServiceProviderMetadata).Methods(http.MethodGet)
}

// RegisterAdminRoutes mounts the configuration management endpoints.
func (h *Handlers) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/sso/oidc/discover", h.DiscoverOIDCConfiguration).Methods(http.MethodGet)
	r.HandleFunc("/orgs/{organization_id}/sso/{protocol}", h.GetConfiguration).Methods(http.MethodGet)
	r.HandleFunc("/orgs/{organization_id}/sso/{protocol}", h.UpsertConfiguration).Methods(http.MethodPut)
	r.HandleFunc("/orgs/{organization_id}/sso/{protocol}", h.DeleteConfiguration).Methods(http.MethodDelete)
	r.HandleFunc("/orgs/{organization_id}/certificates", h.StoreCertificate).Methods(http.MethodPost)
	r.HandleFunc("/certificates/validate", h.ValidateCertificate).Methods(http.MethodPost)
}

type initiateRequest struct {
	OrganizationID string `json:"organization_id"`
	ReturnURL      string `json:"return_url"`
}

// InitiateAuthentication starts a federation flow.
func (h *Handlers) InitiateAuthentication(w http.ResponseWriter, r *http.Request) {
	protocol := ProtocolName(mux.Vars(r)["protocol"])

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewValidationError("body", "invalid JSON request body"))
		return
	}
	if req.OrganizationID == "" {
		h.writeError(w, NewValidationError("organization_id", "organization_id is required"))
		return
	}

	result, err := h.orchestrator.InitiateAuthentication(r.Context(), req.OrganizationID, protocol, req.ReturnURL, nil)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleCallback receives the IdP callback. Form fields (POST binding)
// and query parameters (redirect binding) are merged into the callback
// payload.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	protocol := ProtocolName(mux.Vars(r)["protocol"])

	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewValidationError("body", "malformed callback payload"))
		return
	}
	callback := make(CallbackData, len(r.Form))
	for key := range r.Form {
		callback[key] = r.Form.Get(key)
	}

	result, err := h.orchestrator.HandleAuthenticationCallback(r.Context(), protocol, callback)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type logoutRequest struct {
	OrganizationID string `json:"organization_id"`
	SessionID      string `json:"session_id"`
	ReturnURL      string `json:"return_url"`
}

// InitiateLogout terminates a session. Responds with the IdP logout
// redirect when single logout applies, 204 otherwise.
func (h *Handlers) InitiateLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewValidationError("body", "invalid JSON request body"))
		return
	}
	if req.OrganizationID == "" || req.SessionID == "" {
		h.writeError(w, NewValidationError("session_id", "organization_id and session_id are required"))
		return
	}

	redirect, err := h.orchestrator.InitiateLogout(r.Context(), req.OrganizationID, req.SessionID, req.ReturnURL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if redirect == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, redirect)
}

// DiscoverOIDCConfiguration resolves issuer metadata for admin
// tooling.
func (h *Handlers) DiscoverOIDCConfiguration(w http.ResponseWriter, r *http.Request) {
	issuer := r.URL.Query().Get("issuer")
	if issuer == "" {
		h.writeError(w, NewValidationError("issuer", "issuer query parameter is required"))
		return
	}

	discovered, err := h.oidc.DiscoverConfiguration(r.Context(), issuer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, discovered)
}

// GetConfiguration returns the organization's configuration with
// secret values redacted.
func (h *Handlers) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization_id"]
	protocol := ProtocolName(vars["protocol"])

	config, err := h.configs.Get(r.Context(), organizationID, protocol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if config == nil {
		h.writeError(w, &ConfigurationError{OrganizationID: organizationID, Message: "no " + string(protocol) + " configuration found"})
		return
	}
	h.writeJSON(w, http.StatusOK, redactConfiguration(config))
}

type upsertConfigurationRequest struct {
	ProviderName     string              `json:"provider_name"`
	Config           map[string]string   `json:"config"`
	AttributeMapping map[string][]string `json:"attribute_mapping,omitempty"`
	JITProvisioning  bool                `json:"jit_provisioning"`
	DefaultRole      string              `json:"default_role"`
	AllowedDomains   []string            `json:"allowed_domains,omitempty"`
	AllowedRoles     []string            `json:"allowed_roles,omitempty"`
}

// UpsertConfiguration validates and saves the organization's
// configuration.
func (h *Handlers) UpsertConfiguration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	organizationID := vars["organization_id"]
	protocol := ProtocolName(vars["protocol"])

	handler, err := h.registry.Resolve(protocol)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req upsertConfigurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewValidationError("body", "invalid JSON request body"))
		return
	}

	if err := handler.ValidateConfiguration(req.Config); err != nil {
		h.writeError(w, err)
		return
	}

	config := &SSOConfiguration{
		OrganizationID:   organizationID,
		Protocol:         protocol,
		ProviderName:     req.ProviderName,
		Config:           req.Config,
		AttributeMapping: req.AttributeMapping,
		JITProvisioning:  req.JITProvisioning,
		DefaultRole:      req.DefaultRole,
		AllowedDomains:   req.AllowedDomains,
		AllowedRoles:     req.AllowedRoles,
	}
	if err := h.configs.Upsert(r.Context(), config); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"organization_id": organizationID,
		"protocol":        string(protocol),
	}).Info("sso configuration saved")
	h.writeJSON(w, http.StatusOK, redactConfiguration(config))
}

// DeleteConfiguration soft-deletes the organization's configuration.
func (h *Handlers) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.configs.Delete(r.Context(), vars["organization_id"], ProtocolName(vars["protocol"])); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServiceProviderMetadata serves the SAML SP metadata document for the
// organization.
func (h *Handlers) ServiceProviderMetadata(w http.ResponseWriter, r *http.Request) {
	organizationID := mux.Vars(r)["organization_id"]

	config, err := h.configs.Get(r.Context(), organizationID, ProtocolSAML)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if config == nil {
		h.writeError(w, &ConfigurationError{OrganizationID: organizationID, Message: "no saml configuration found"})
		return
	}

	metadata, err := h.saml.ServiceProviderMetadata(config)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(metadata)
}

type storeCertificateRequest struct {
	CertType string `json:"cert_type"`
	PEMData  string `json:"pem_data"`
}

// StoreCertificate validates and persists a certificate for the
// organization.
func (h *Handlers) StoreCertificate(w http.ResponseWriter, r *http.Request) {
	organizationID := mux.Vars(r)["organization_id"]

	var req storeCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewValidationError("body", "invalid JSON request body"))
		return
	}

	path, err := h.certs.StoreCertificate(organizationID, req.CertType, req.PEMData)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

type validateCertificateRequest struct {
	PEMData         string `json:"pem_data"`
	CheckExpiry     bool   `json:"check_expiry"`
	MinValidityDays int    `json:"min_validity_days"`
}

// ValidateCertificate runs certificate checks without persisting
// anything.
func (h *Handlers) ValidateCertificate(w http.ResponseWriter, r *http.Request) {
	var req validateCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, NewValidationError("body", "invalid JSON request body"))
		return
	}

	result, err := h.certs.ValidateCertificate(req.PEMData, req.CheckExpiry, req.MinValidityDays)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// redactedValue replaces secrets in API responses.
const redactedValue = "[REDACTED]"

var secretConfigKeys = []string{
	oidcKeyClientSecret, samlKeySPPrivateKey,
}

func redactConfiguration(config *SSOConfiguration) *SSOConfiguration {
	redacted := *config
	redacted.Config = make(map[string]string, len(config.Config))
	for k, v := range config.Config {
		redacted.Config[k] = v
	}
	for _, key := range secretConfigKeys {
		if redacted.Config[key] != "" {
			redacted.Config[key] = redactedValue
		}
	}
	return &redacted
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps engine error types onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validationErr *ValidationError
	var authErr *AuthenticationError
	var configErr *ConfigurationError
	var certErr *CertificateError
	var provErr *ProvisioningError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &configErr):
		status = http.StatusNotFound
	case errors.As(err, &certErr):
		status = http.StatusBadRequest
	case errors.As(err, &provErr):
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("internal error handling sso request")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
