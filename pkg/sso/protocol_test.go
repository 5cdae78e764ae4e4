package sso

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryCache is an in-process Cache for tests. TTLs are ignored.
type memoryCache struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]string)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memoryCache) GetDelete(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	delete(c.items, key)
	return v, ok, nil
}

func TestRegistryResolve(t *testing.T) {
	cache := newMemoryCache()
	mapper := NewAttributeMapper()
	registry := NewRegistry(NewSAMLProtocol(cache, mapper), NewOIDCProtocol(cache, mapper, nil))

	saml, err := registry.Resolve(ProtocolSAML)
	require.NoError(t, err)
	assert.Equal(t, ProtocolSAML, saml.Name())

	oidc, err := registry.Resolve(ProtocolOIDC)
	require.NoError(t, err)
	assert.Equal(t, ProtocolOIDC, oidc.Name())

	assert.Len(t, registry.Protocols(), 2)
}

func TestRegistryResolveUnknownProtocol(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Resolve("ldap")
	require.Error(t, err)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestRequestStateRoundTrip(t *testing.T) {
	cache := newMemoryCache()
	ctx := context.Background()

	state := &AuthenticationRequestState{
		OrganizationID: "org-1",
		ReturnURL:      "https://app.example.com/dashboard",
		RequestID:      "req-123",
		Nonce:          "nonce-abc",
		IssuedAt:       time.Now().UTC().Truncate(time.Second),
		Config: &SSOConfiguration{
			OrganizationID: "org-1",
			Protocol:       ProtocolOIDC,
			Config:         map[string]string{"issuer": "https://idp.example.com"},
		},
	}
	require.NoError(t, storeRequestState(ctx, cache, "oidc_state:req-123", state))

	got, err := consumeRequestState(ctx, cache, "oidc_state:req-123")
	require.NoError(t, err)
	assert.Equal(t, state.OrganizationID, got.OrganizationID)
	assert.Equal(t, state.ReturnURL, got.ReturnURL)
	assert.Equal(t, state.Nonce, got.Nonce)
	assert.Equal(t, "https://idp.example.com", got.Config.Config["issuer"])
}

func TestRequestStateSingleUse(t *testing.T) {
	cache := newMemoryCache()
	ctx := context.Background()

	state := &AuthenticationRequestState{OrganizationID: "org-1", RequestID: "req-1"}
	require.NoError(t, storeRequestState(ctx, cache, "saml_request:req-1", state))

	_, err := consumeRequestState(ctx, cache, "saml_request:req-1")
	require.NoError(t, err)

	// Second consumption must fail: the state is single-use.
	_, err = consumeRequestState(ctx, cache, "saml_request:req-1")
	require.Error(t, err)
	var authErr *AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestRequestStateUnknownKey(t *testing.T) {
	cache := newMemoryCache()

	_, err := consumeRequestState(context.Background(), cache, "saml_request:never-issued")
	require.Error(t, err)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "unknown or expired")
}

func TestRequireConfigFields(t *testing.T) {
	err := requireConfigFields(map[string]string{"a": "1", "b": ""}, []string{"a", "b"})
	require.Error(t, err)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "b", validationErr.Field)

	assert.NoError(t, requireConfigFields(map[string]string{"a": "1"}, []string{"a"}))
}

func TestRequireHTTPURL(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"https", "https://idp.example.com/sso", false},
		{"http", "http://localhost:8080/sso", false},
		{"empty is skipped", "", false},
		{"relative", "/sso/callback", true},
		{"wrong scheme", "ldap://idp.example.com", true},
		{"no host", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireHTTPURL(map[string]string{"url": tt.value}, "url")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
