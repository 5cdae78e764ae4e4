package sso

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fedgate/fedgate/pkg/audit"
	"github.com/fedgate/fedgate/pkg/auth"
)

// UserStore is the persistence collaborator the provisioner drives.
// FindByEmail returns (nil, nil) when no user matches.
type UserStore interface {
	FindByEmail(ctx context.Context, email, organizationID string) (*auth.User, error)
	Create(ctx context.Context, user *auth.User) error
	Update(ctx context.Context, user *auth.User) error
}

// Provisioner performs just-in-time user provisioning from mapped
// federation attributes.
type Provisioner struct {
	users UserStore
	audit audit.Logger
}

// NewProvisioner creates a provisioner. A nil audit logger falls back
// to a no-op sink.
func NewProvisioner(users UserStore, auditLogger audit.Logger) *Provisioner {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Provisioner{users: users, audit: auditLogger}
}

// ProvisionUser resolves the mapped identity to a platform user,
// creating one when JIT provisioning is enabled and updating profile
// fields on every login otherwise.
func (p *Provisioner) ProvisionUser(ctx context.Context, data *UserProvisioningData, config *SSOConfiguration) (*auth.User, error) {
	if data == nil || data.Email == "" {
		return nil, &ProvisioningError{Message: "provisioning data has no email"}
	}

	user, err := p.users.FindByEmail(ctx, data.Email, config.OrganizationID)
	if err != nil {
		return nil, &ProvisioningError{Message: "failed to look up user", Cause: err}
	}

	if user == nil {
		if !config.JITProvisioning {
			return nil, NewValidationError("email", fmt.Sprintf("user %s not found and JIT provisioning is disabled", data.Email))
		}
		return p.createUser(ctx, data, config)
	}
	if !config.JITProvisioning {
		p.auditLogin(ctx, user, config)
		return user, nil
	}
	return p.updateUser(ctx, user, data, config)
}

// ValidateUserAccess enforces the configuration's access policy
// against a resolved user. Returns nil when access is permitted.
func (p *Provisioner) ValidateUserAccess(ctx context.Context, user *auth.User, config *SSOConfiguration) error {
	if !user.IsActive {
		return NewAuthenticationError("user account is deactivated", nil)
	}

	if len(config.AllowedDomains) > 0 {
		domain := emailDomain(user.Email)
		allowed := false
		for _, d := range config.AllowedDomains {
			if strings.EqualFold(strings.TrimSpace(d), domain) {
				allowed = true
				break
			}
		}
		if !allowed {
			p.audit.LogEvent(ctx, audit.EventTypeSSOAccessDenied, user.ID, config.OrganizationID, map[string]interface{}{
				"reason": "email domain not allowed",
				"email":  user.Email,
			})
			return NewAuthenticationError("email domain is not allowed for this organization", nil)
		}
	}

	if len(config.AllowedRoles) > 0 {
		allowed := false
		for _, r := range config.AllowedRoles {
			if strings.EqualFold(strings.TrimSpace(r), user.Role) {
				allowed = true
				break
			}
		}
		if !allowed {
			p.audit.LogEvent(ctx, audit.EventTypeSSOAccessDenied, user.ID, config.OrganizationID, map[string]interface{}{
				"reason": "role not allowed",
				"role":   user.Role,
			})
			return NewAuthenticationError("user role is not allowed for SSO access", nil)
		}
	}

	return nil
}

func (p *Provisioner) createUser(ctx context.Context, data *UserProvisioningData, config *SSOConfiguration) (*auth.User, error) {
	role := config.DefaultRole
	if role == "" {
		role = auth.RoleMember
	}

	now := time.Now().UTC()
	user := &auth.User{
		ID:             uuid.NewString(),
		OrganizationID: config.OrganizationID,
		Email:          data.Email,
		FirstName:      data.FirstName,
		LastName:       data.LastName,
		DisplayName:    displayNameOrDefault(data),
		Role:           role,
		IsActive:       true,
		EmailVerified:  true,
		SSOProvider:    config.ProviderName,
		SSOSubjectID:   subjectOrEmail(data),
		CreatedAt:      now,
		UpdatedAt:      now,
		LastLoginAt:    &now,
	}

	if err := p.users.Create(ctx, user); err != nil {
		return nil, &ProvisioningError{Message: "failed to create user", Cause: err}
	}

	p.audit.LogEvent(ctx, audit.EventTypeUserCreated, user.ID, config.OrganizationID, map[string]interface{}{
		"email":    user.Email,
		"role":     user.Role,
		"provider": config.ProviderName,
	})
	return user, nil
}

func (p *Provisioner) updateUser(ctx context.Context, user *auth.User, data *UserProvisioningData, config *SSOConfiguration) (*auth.User, error) {
	changed := false
	if data.FirstName != "" && data.FirstName != user.FirstName {
		user.FirstName = data.FirstName
		changed = true
	}
	if data.LastName != "" && data.LastName != user.LastName {
		user.LastName = data.LastName
		changed = true
	}
	if display := displayNameOrDefault(data); display != "" && display != user.DisplayName {
		user.DisplayName = display
		changed = true
	}
	if user.SSOProvider != config.ProviderName {
		user.SSOProvider = config.ProviderName
		changed = true
	}
	if subject := subjectOrEmail(data); subject != user.SSOSubjectID {
		user.SSOSubjectID = subject
		changed = true
	}

	// An unchanged profile is a pure login: no write, audit only.
	if changed {
		now := time.Now().UTC()
		user.LastLoginAt = &now
		user.UpdatedAt = now

		if err := p.users.Update(ctx, user); err != nil {
			return nil, &ProvisioningError{Message: "failed to update user", Cause: err}
		}
		p.audit.LogEvent(ctx, audit.EventTypeUserUpdated, user.ID, config.OrganizationID, map[string]interface{}{
			"email":    user.Email,
			"provider": config.ProviderName,
		})
	}
	p.auditLogin(ctx, user, config)
	return user, nil
}

func (p *Provisioner) auditLogin(ctx context.Context, user *auth.User, config *SSOConfiguration) {
	p.audit.LogEvent(ctx, audit.EventTypeUserLogin, user.ID, config.OrganizationID, map[string]interface{}{
		"email":    user.Email,
		"provider": config.ProviderName,
	})
}

// subjectOrEmail picks the stable IdP subject identifier, falling back
// to the email address for providers that omit one.
func subjectOrEmail(data *UserProvisioningData) string {
	if data.Subject != "" {
		return data.Subject
	}
	return data.Email
}

func displayNameOrDefault(data *UserProvisioningData) string {
	if data.DisplayName != "" {
		return data.DisplayName
	}
	if data.FirstName != "" && data.LastName != "" {
		return data.FirstName + " " + data.LastName
	}
	return ""
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[at+1:]
}
