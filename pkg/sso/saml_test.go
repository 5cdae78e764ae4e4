package sso

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSAMLConfig(t *testing.T) *SSOConfiguration {
	t.Helper()
	certPEM, _, err := NewCertificateManager(t.TempDir()).
		GenerateSelfSignedCertificate("idp.example.com", "Example IdP", 365, 2048)
	require.NoError(t, err)

	return &SSOConfiguration{
		OrganizationID: "org-1",
		Protocol:       ProtocolSAML,
		ProviderName:   ProviderOkta,
		Config: map[string]string{
			"entity_id":   "https://idp.example.com/metadata",
			"sso_url":     "https://idp.example.com/sso",
			"certificate": certPEM,
			"acs_url":     "https://app.example.com/api/v1/sso/saml/callback",
		},
	}
}

func TestSAMLValidateConfiguration(t *testing.T) {
	p := NewSAMLProtocol(newMemoryCache(), NewAttributeMapper())
	valid := testSAMLConfig(t).Config

	assert.NoError(t, p.ValidateConfiguration(valid))

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		field   string
	}{
		{"missing entity_id", func(c map[string]string) { delete(c, "entity_id") }, "entity_id"},
		{"missing sso_url", func(c map[string]string) { delete(c, "sso_url") }, "sso_url"},
		{"missing certificate", func(c map[string]string) { delete(c, "certificate") }, "certificate"},
		{"missing acs_url", func(c map[string]string) { delete(c, "acs_url") }, "acs_url"},
		{"sso_url not a URL", func(c map[string]string) { c["sso_url"] = "not a url" }, "sso_url"},
		{"garbage certificate", func(c map[string]string) { c["certificate"] = "!!!" }, "certificate"},
		{"sign_request without key", func(c map[string]string) { c["sign_request"] = "true" }, "sp_private_key"},
		{"encrypt_assertion without key", func(c map[string]string) { c["encrypt_assertion"] = "true" }, "sp_private_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := make(map[string]string, len(valid))
			for k, v := range valid {
				config[k] = v
			}
			tt.mutate(config)

			err := p.ValidateConfiguration(config)
			require.Error(t, err)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestSAMLInitiateAuthentication(t *testing.T) {
	cache := newMemoryCache()
	p := NewSAMLProtocol(cache, NewAttributeMapper())
	config := testSAMLConfig(t)

	result, err := p.InitiateAuthentication(context.Background(), "org-1", "https://app.example.com/dash", config)
	require.NoError(t, err)

	// The redirect targets the IdP SSO URL with a deflated SAMLRequest
	// and the request id as relay state.
	u, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.NotEmpty(t, u.Query().Get("SAMLRequest"))
	assert.Equal(t, result.RelayState, u.Query().Get("RelayState"))

	// RequestBody carries the raw request XML base64-encoded.
	xmlBytes, err := base64.StdEncoding.DecodeString(result.RequestBody)
	require.NoError(t, err)
	assert.Contains(t, string(xmlBytes), "AuthnRequest")

	// The request state is stored under the relay state key.
	state, err := consumeRequestState(context.Background(), cache, samlStateKeyPrefix+result.RelayState)
	require.NoError(t, err)
	assert.Equal(t, "org-1", state.OrganizationID)
	assert.Equal(t, "https://app.example.com/dash", state.ReturnURL)
}

func TestSAMLInitiateRejectsInvalidConfig(t *testing.T) {
	p := NewSAMLProtocol(newMemoryCache(), NewAttributeMapper())
	config := testSAMLConfig(t)
	delete(config.Config, "certificate")

	_, err := p.InitiateAuthentication(context.Background(), "org-1", "", config)
	require.Error(t, err)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestSAMLHandleCallbackMissingParameters(t *testing.T) {
	p := NewSAMLProtocol(newMemoryCache(), NewAttributeMapper())
	ctx := context.Background()

	_, err := p.HandleCallback(ctx, CallbackData{"RelayState": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAMLResponse")

	_, err = p.HandleCallback(ctx, CallbackData{"SAMLResponse": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RelayState")
}

func TestSAMLHandleCallbackUnknownRelayState(t *testing.T) {
	p := NewSAMLProtocol(newMemoryCache(), NewAttributeMapper())

	_, err := p.HandleCallback(context.Background(), CallbackData{
		"SAMLResponse": base64.StdEncoding.EncodeToString([]byte("<Response/>")),
		"RelayState":   "never-issued",
	})
	require.Error(t, err)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "unknown or expired")
}

func TestSAMLHandleCallbackRejectsForgedResponse(t *testing.T) {
	cache := newMemoryCache()
	p := NewSAMLProtocol(cache, NewAttributeMapper())
	config := testSAMLConfig(t)
	ctx := context.Background()

	initiated, err := p.InitiateAuthentication(ctx, "org-1", "", config)
	require.NoError(t, err)

	forged := base64.StdEncoding.EncodeToString([]byte(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"/>`))
	_, err = p.HandleCallback(ctx, CallbackData{
		"SAMLResponse": forged,
		"RelayState":   initiated.RelayState,
	})
	require.Error(t, err)
	var authErr *AuthenticationError
	assert.ErrorAs(t, err, &authErr)

	// The relay state was consumed by the failed attempt; a retry with
	// the same relay state cannot proceed.
	_, err = p.HandleCallback(ctx, CallbackData{
		"SAMLResponse": forged,
		"RelayState":   initiated.RelayState,
	})
	require.Error(t, err)
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "unknown or expired")
}

func TestSAMLInitiateLogout(t *testing.T) {
	p := NewSAMLProtocol(newMemoryCache(), NewAttributeMapper())
	config := testSAMLConfig(t)
	config.Config["slo_url"] = "https://idp.example.com/slo"

	session := &SSOSession{
		SessionID:    "sess-1",
		NameID:       "jane@example.com",
		SessionIndex: "_idx42",
	}

	redirect, err := p.InitiateLogout(context.Background(), session, config, "https://app.example.com/bye")
	require.NoError(t, err)

	u, err := url.Parse(redirect.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/slo", u.Path)
	assert.Equal(t, "https://app.example.com/bye", u.Query().Get("RelayState"))

	decoded, err := base64.StdEncoding.DecodeString(u.Query().Get("SAMLRequest"))
	require.NoError(t, err)
	xml := string(decoded)
	assert.Contains(t, xml, "LogoutRequest")
	assert.Contains(t, xml, "jane@example.com")
	assert.Contains(t, xml, "_idx42")
}

func TestSAMLInitiateLogoutWithoutSLOURL(t *testing.T) {
	p := NewSAMLProtocol(newMemoryCache(), NewAttributeMapper())
	config := testSAMLConfig(t)

	_, err := p.InitiateLogout(context.Background(), &SSOSession{SessionID: "sess-1"}, config, "")
	require.Error(t, err)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "slo_url", validationErr.Field)
}

func TestSAMLServiceProviderMetadata(t *testing.T) {
	p := NewSAMLProtocol(newMemoryCache(), NewAttributeMapper())
	config := testSAMLConfig(t)
	config.Config["sp_entity_id"] = "https://app.example.com/saml"

	metadata, err := p.ServiceProviderMetadata(config)
	require.NoError(t, err)

	doc := string(metadata)
	assert.Contains(t, doc, "EntityDescriptor")
	assert.Contains(t, doc, "https://app.example.com/saml")
	assert.True(t, strings.Contains(doc, "AssertionConsumerService"))
}

func TestBuildLogoutRequestXMLEscapes(t *testing.T) {
	xml := buildLogoutRequestXML("https://sp.example.com", "https://idp.example.com/slo", `jane<&>"doe"`, "")
	assert.Contains(t, xml, "jane&lt;&amp;&gt;&quot;doe&quot;")
	assert.NotContains(t, xml, `jane<&>`)
}

func TestParseConfigBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", "on", " true "} {
		assert.True(t, parseConfigBool(v), v)
	}
	for _, v := range []string{"", "false", "0", "no", "off", "maybe"} {
		assert.False(t, parseConfigBool(v), v)
	}
}
