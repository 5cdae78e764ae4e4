package sso

import "fmt"

// ValidationError indicates malformed or missing configuration/input.
// The caller must correct the request; retrying does not help.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// NewValidationError creates a ValidationError for a named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AuthenticationError indicates the IdP rejected the attempt or the
// callback failed a security check (signature, nonce, state, expiry,
// replay). Always terminal for the attempt.
type AuthenticationError struct {
	Message string
	Cause   error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Cause)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// NewAuthenticationError creates an AuthenticationError.
func NewAuthenticationError(message string, cause error) *AuthenticationError {
	return &AuthenticationError{Message: message, Cause: cause}
}

// ConfigurationError indicates organization-level SSO setup is
// incomplete or missing.
type ConfigurationError struct {
	OrganizationID string
	Message        string
}

func (e *ConfigurationError) Error() string {
	if e.OrganizationID != "" {
		return fmt.Sprintf("sso configuration error for organization %s: %s", e.OrganizationID, e.Message)
	}
	return "sso configuration error: " + e.Message
}

// CertificateError indicates an X.509 certificate could not be parsed,
// validated, or converted.
type CertificateError struct {
	Message string
	Cause   error
}

func (e *CertificateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("certificate error: %s: %v", e.Message, e.Cause)
	}
	return "certificate error: " + e.Message
}

func (e *CertificateError) Unwrap() error { return e.Cause }

// ProvisioningError indicates JIT provisioning failed, including the
// hard stop when no email attribute could be resolved.
type ProvisioningError struct {
	Message string
	Cause   error
}

func (e *ProvisioningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provisioning failed: %s: %v", e.Message, e.Cause)
	}
	return "provisioning failed: " + e.Message
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }
