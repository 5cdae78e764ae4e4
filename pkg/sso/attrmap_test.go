package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSAMLAttributes(t *testing.T) {
	mapper := NewAttributeMapper()

	tests := []struct {
		name  string
		attrs map[string][]string
		want  UserProvisioningData
	}{
		{
			name: "plain attribute names",
			attrs: map[string][]string{
				"email":     {"jane@example.com"},
				"firstName": {"Jane"},
				"lastName":  {"Doe"},
			},
			want: UserProvisioningData{
				Email: "jane@example.com", FirstName: "Jane", LastName: "Doe",
				DisplayName: "Jane Doe",
			},
		},
		{
			name: "azure claim uris",
			attrs: map[string][]string{
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress": {"bob@corp.example.com"},
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname":    {"Bob"},
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname":      {"Smith"},
				"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name":         {"Bob Smith"},
			},
			want: UserProvisioningData{
				Email: "bob@corp.example.com", FirstName: "Bob", LastName: "Smith",
				DisplayName: "Bob Smith",
			},
		},
		{
			name: "multi-valued attribute uses first element",
			attrs: map[string][]string{
				"mail": {"primary@example.com", "alias@example.com"},
			},
			want: UserProvisioningData{Email: "primary@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapper.MapSAMLAttributes(tt.attrs, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Email, got.Email)
			assert.Equal(t, tt.want.FirstName, got.FirstName)
			assert.Equal(t, tt.want.LastName, got.LastName)
			assert.Equal(t, tt.want.DisplayName, got.DisplayName)
		})
	}
}

func TestMapSAMLAttributesMissingEmail(t *testing.T) {
	mapper := NewAttributeMapper()

	_, err := mapper.MapSAMLAttributes(map[string][]string{
		"firstName": {"Jane"},
	}, nil)
	require.Error(t, err)
	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Message, "no email attribute")
}

func TestMapSAMLAttributesCustomMappingOverride(t *testing.T) {
	mapper := NewAttributeMapper()

	// The custom list replaces the default candidates entirely, so the
	// plain "email" attribute is ignored.
	got, err := mapper.MapSAMLAttributes(map[string][]string{
		"email":       {"wrong@example.com"},
		"workEmail":   {"right@example.com"},
		"displayName": {"Jane"},
	}, map[string][]string{
		"email": {"workEmail"},
	})
	require.NoError(t, err)
	assert.Equal(t, "right@example.com", got.Email)
}

func TestMapOIDCClaims(t *testing.T) {
	mapper := NewAttributeMapper()

	got, err := mapper.MapOIDCClaims(map[string]interface{}{
		"sub":         "oidc|jane-1",
		"email":       "jane@example.com",
		"given_name":  "Jane",
		"family_name": "Doe",
		"name":        "Jane Q. Doe",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "Jane", got.FirstName)
	assert.Equal(t, "Doe", got.LastName)
	assert.Equal(t, "Jane Q. Doe", got.DisplayName)
	assert.Equal(t, "oidc|jane-1", got.Subject)
}

func TestMapOIDCClaimsFallbacks(t *testing.T) {
	mapper := NewAttributeMapper()

	// upn stands in for a missing email claim; display name is derived
	// from first and last name.
	got, err := mapper.MapOIDCClaims(map[string]interface{}{
		"upn":         "jane@corp.example.com",
		"given_name":  "Jane",
		"family_name": "Doe",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "jane@corp.example.com", got.Email)
	assert.Equal(t, "Jane Doe", got.DisplayName)
}

func TestMapOIDCClaimsMissingEmail(t *testing.T) {
	mapper := NewAttributeMapper()

	_, err := mapper.MapOIDCClaims(map[string]interface{}{"sub": "abc123"}, nil)
	require.Error(t, err)
	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Message, "no email claim")
}

func TestMapOIDCClaimsArrayValued(t *testing.T) {
	mapper := NewAttributeMapper()

	got, err := mapper.MapOIDCClaims(map[string]interface{}{
		"email": []interface{}{"first@example.com", "second@example.com"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", got.Email)
}

func TestProviderDefaultMapping(t *testing.T) {
	mapper := NewAttributeMapper()

	okta := mapper.ProviderDefaultMapping("Okta")
	require.NotNil(t, okta)
	assert.Equal(t, []string{"email", "login"}, okta["email"])

	// Returned maps are copies; mutating one must not leak into the
	// presets.
	okta["email"][0] = "mutated"
	fresh := mapper.ProviderDefaultMapping("okta")
	assert.Equal(t, "email", fresh["email"][0])

	assert.Nil(t, mapper.ProviderDefaultMapping("unknown-idp"))
}
