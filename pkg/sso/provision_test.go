package sso

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedgate/fedgate/pkg/audit"
	"github.com/fedgate/fedgate/pkg/auth"
)

// fakeUserStore keys users by lowercased email within one org.
type fakeUserStore struct {
	users   map[string]*auth.User
	created []*auth.User
	updated []*auth.User
	findErr error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*auth.User{}}
}

func (s *fakeUserStore) FindByEmail(ctx context.Context, email, organizationID string) (*auth.User, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.users[email], nil
}

func (s *fakeUserStore) Create(ctx context.Context, user *auth.User) error {
	s.users[user.Email] = user
	s.created = append(s.created, user)
	return nil
}

func (s *fakeUserStore) Update(ctx context.Context, user *auth.User) error {
	s.users[user.Email] = user
	s.updated = append(s.updated, user)
	return nil
}

// recordingAuditLogger captures events for assertions.
type recordingAuditLogger struct {
	events []audit.EventType
}

func (l *recordingAuditLogger) LogEvent(ctx context.Context, eventType audit.EventType, userID, organizationID string, details map[string]interface{}) error {
	l.events = append(l.events, eventType)
	return nil
}

func (l *recordingAuditLogger) Close() error { return nil }

func jitConfig() *SSOConfiguration {
	return &SSOConfiguration{
		OrganizationID:  "org-1",
		Protocol:        ProtocolSAML,
		ProviderName:    ProviderOkta,
		JITProvisioning: true,
	}
}

func TestProvisionUserCreatesWhenJITEnabled(t *testing.T) {
	store := newFakeUserStore()
	auditLog := &recordingAuditLogger{}
	p := NewProvisioner(store, auditLog)

	config := jitConfig()
	config.DefaultRole = auth.RoleViewer

	user, err := p.ProvisionUser(context.Background(), &UserProvisioningData{
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Subject:   "idp|jane-123",
	}, config)
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "org-1", user.OrganizationID)
	assert.Equal(t, auth.RoleViewer, user.Role)
	assert.Equal(t, "Jane Doe", user.DisplayName)
	assert.Equal(t, ProviderOkta, user.SSOProvider)
	assert.Equal(t, "idp|jane-123", user.SSOSubjectID)
	assert.True(t, user.IsActive)
	assert.True(t, user.EmailVerified)
	require.NotNil(t, user.LastLoginAt)
	require.Len(t, store.created, 1)
	assert.Contains(t, auditLog.events, audit.EventTypeUserCreated)
}

func TestProvisionUserDefaultsRoleToMember(t *testing.T) {
	store := newFakeUserStore()
	p := NewProvisioner(store, nil)

	user, err := p.ProvisionUser(context.Background(), &UserProvisioningData{Email: "jane@example.com"}, jitConfig())
	require.NoError(t, err)
	assert.Equal(t, auth.RoleMember, user.Role)
	// Without an IdP subject the email doubles as the stable identifier.
	assert.Equal(t, "jane@example.com", user.SSOSubjectID)
}

func TestProvisionUserRejectsWhenJITDisabled(t *testing.T) {
	p := NewProvisioner(newFakeUserStore(), nil)

	config := jitConfig()
	config.JITProvisioning = false

	_, err := p.ProvisionUser(context.Background(), &UserProvisioningData{Email: "ghost@example.com"}, config)
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Message, "JIT provisioning is disabled")
}

func TestProvisionUserRequiresEmail(t *testing.T) {
	p := NewProvisioner(newFakeUserStore(), nil)

	_, err := p.ProvisionUser(context.Background(), &UserProvisioningData{}, jitConfig())
	require.Error(t, err)
	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Message, "no email")
}

func TestProvisionUserLookupFailure(t *testing.T) {
	store := newFakeUserStore()
	store.findErr = errors.New("db down")
	p := NewProvisioner(store, nil)

	_, err := p.ProvisionUser(context.Background(), &UserProvisioningData{Email: "jane@example.com"}, jitConfig())
	require.Error(t, err)
	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.ErrorIs(t, provErr.Cause, store.findErr)
}

func TestProvisionUserUpdatesChangedProfile(t *testing.T) {
	store := newFakeUserStore()
	store.users["jane@example.com"] = &auth.User{
		ID:        "user-1",
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Smith",
		Role:      auth.RoleAdmin,
		IsActive:  true,
	}
	auditLog := &recordingAuditLogger{}
	p := NewProvisioner(store, auditLog)

	user, err := p.ProvisionUser(context.Background(), &UserProvisioningData{
		Email:    "jane@example.com",
		LastName: "Doe",
	}, jitConfig())
	require.NoError(t, err)

	assert.Equal(t, "Doe", user.LastName)
	assert.Equal(t, auth.RoleAdmin, user.Role)
	assert.Equal(t, "jane@example.com", user.SSOSubjectID)
	require.NotNil(t, user.LastLoginAt)
	require.Len(t, store.updated, 1)
	assert.Empty(t, store.created)
	assert.Contains(t, auditLog.events, audit.EventTypeUserUpdated)
	assert.Contains(t, auditLog.events, audit.EventTypeUserLogin)
}

func TestProvisionUserUnchangedProfileLogsLoginOnly(t *testing.T) {
	store := newFakeUserStore()
	store.users["jane@example.com"] = &auth.User{
		ID:           "user-1",
		Email:        "jane@example.com",
		FirstName:    "Jane",
		LastName:     "Doe",
		DisplayName:  "Jane Doe",
		SSOProvider:  ProviderOkta,
		SSOSubjectID: "jane@example.com",
		IsActive:     true,
	}
	auditLog := &recordingAuditLogger{}
	p := NewProvisioner(store, auditLog)

	_, err := p.ProvisionUser(context.Background(), &UserProvisioningData{
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
	}, jitConfig())
	require.NoError(t, err)

	assert.Contains(t, auditLog.events, audit.EventTypeUserLogin)
	assert.NotContains(t, auditLog.events, audit.EventTypeUserUpdated)
	assert.Empty(t, store.updated)
}

func TestProvisionUserExistingWithJITDisabled(t *testing.T) {
	store := newFakeUserStore()
	store.users["jane@example.com"] = &auth.User{
		ID:        "user-1",
		Email:     "jane@example.com",
		FirstName: "Jane",
		IsActive:  true,
	}
	auditLog := &recordingAuditLogger{}
	p := NewProvisioner(store, auditLog)

	config := jitConfig()
	config.JITProvisioning = false

	// Updates are part of JIT provisioning: with it disabled an
	// existing user logs in untouched even when attributes differ.
	user, err := p.ProvisionUser(context.Background(), &UserProvisioningData{
		Email:     "jane@example.com",
		FirstName: "Janet",
	}, config)
	require.NoError(t, err)

	assert.Equal(t, "Jane", user.FirstName)
	assert.Empty(t, store.updated)
	assert.Equal(t, []audit.EventType{audit.EventTypeUserLogin}, auditLog.events)
}

func TestValidateUserAccessInactive(t *testing.T) {
	p := NewProvisioner(newFakeUserStore(), nil)

	err := p.ValidateUserAccess(context.Background(), &auth.User{IsActive: false}, jitConfig())
	require.Error(t, err)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "deactivated")
}

func TestValidateUserAccessAllowedDomains(t *testing.T) {
	auditLog := &recordingAuditLogger{}
	p := NewProvisioner(newFakeUserStore(), auditLog)

	config := jitConfig()
	config.AllowedDomains = []string{"Example.COM"}

	// Domain comparison is case-insensitive.
	err := p.ValidateUserAccess(context.Background(), &auth.User{
		Email: "jane@example.com", IsActive: true,
	}, config)
	assert.NoError(t, err)

	err = p.ValidateUserAccess(context.Background(), &auth.User{
		Email: "mallory@elsewhere.net", IsActive: true,
	}, config)
	require.Error(t, err)
	assert.Contains(t, auditLog.events, audit.EventTypeSSOAccessDenied)
}

func TestValidateUserAccessAllowedRoles(t *testing.T) {
	p := NewProvisioner(newFakeUserStore(), nil)

	config := jitConfig()
	config.AllowedRoles = []string{"admin", "member"}

	assert.NoError(t, p.ValidateUserAccess(context.Background(), &auth.User{
		Email: "a@example.com", IsActive: true, Role: "Member",
	}, config))

	err := p.ValidateUserAccess(context.Background(), &auth.User{
		Email: "b@example.com", IsActive: true, Role: auth.RoleViewer,
	}, config)
	require.Error(t, err)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "role")
}
