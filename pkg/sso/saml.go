package sso

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// SAML configuration keys.
const (
	samlKeyEntityID             = "entity_id"
	samlKeySSOURL               = "sso_url"
	samlKeyCertificate          = "certificate"
	samlKeyACSURL               = "acs_url"
	samlKeySLOURL               = "slo_url"
	samlKeySPEntityID           = "sp_entity_id"
	samlKeySPSLOURL             = "sp_slo_url"
	samlKeySPCertificate        = "sp_certificate"
	samlKeySPPrivateKey         = "sp_private_key"
	samlKeyNameIDFormat         = "name_id_format"
	samlKeySignRequest          = "sign_request"
	samlKeyWantAssertionsSigned = "want_assertions_signed"
	samlKeyEncryptAssertion     = "encrypt_assertion"
)

var samlRequiredFields = []string{samlKeyEntityID, samlKeySSOURL, samlKeyCertificate, samlKeyACSURL}

const samlStateKeyPrefix = "saml_request:"

// SAMLProtocol implements the SAML 2.0 Web SSO profile on top of
// gosaml2. A service provider instance is built per request from the
// organization's stored configuration; the handler itself carries no
// per-flow state beyond the shared cache.
type SAMLProtocol struct {
	cache  Cache
	mapper *AttributeMapper
}

// NewSAMLProtocol creates the SAML handler.
func NewSAMLProtocol(cache Cache, mapper *AttributeMapper) *SAMLProtocol {
	return &SAMLProtocol{cache: cache, mapper: mapper}
}

// Name returns "saml".
func (p *SAMLProtocol) Name() ProtocolName { return ProtocolSAML }

// RequiredConfigFields lists the mandatory SAML configuration keys.
func (p *SAMLProtocol) RequiredConfigFields() []string {
	return append([]string(nil), samlRequiredFields...)
}

// ValidateConfiguration checks the SAML configuration: required
// fields, URL shape, and certificate decodability.
func (p *SAMLProtocol) ValidateConfiguration(config map[string]string) error {
	if err := requireConfigFields(config, samlRequiredFields); err != nil {
		return err
	}
	for _, field := range []string{samlKeySSOURL, samlKeyACSURL, samlKeySLOURL, samlKeySPSLOURL} {
		if err := requireHTTPURL(config, field); err != nil {
			return err
		}
	}
	if _, err := decodeCertificateValue(config[samlKeyCertificate]); err != nil {
		return NewValidationError(samlKeyCertificate, "certificate is not valid base64-encoded X.509 data")
	}
	if parseConfigBool(config[samlKeySignRequest]) && config[samlKeySPPrivateKey] == "" {
		return NewValidationError(samlKeySPPrivateKey, "sp_private_key is required when sign_request is enabled")
	}
	if parseConfigBool(config[samlKeyEncryptAssertion]) && config[samlKeySPPrivateKey] == "" {
		return NewValidationError(samlKeySPPrivateKey, "sp_private_key is required when encrypt_assertion is enabled")
	}
	return nil
}

// InitiateAuthentication builds an AuthnRequest, stores the request
// state keyed by a fresh request id, and returns the IdP redirect
// material. The relay state round-tripped through the IdP is the
// request id.
func (p *SAMLProtocol) InitiateAuthentication(ctx context.Context, organizationID, returnURL string, config *SSOConfiguration) (*InitiationResult, error) {
	if err := p.ValidateConfiguration(config.Config); err != nil {
		return nil, err
	}

	sp, err := p.buildServiceProvider(config)
	if err != nil {
		return nil, err
	}

	requestXML, err := sp.BuildAuthRequest()
	if err != nil {
		return nil, NewAuthenticationError("failed to build SAML authentication request", err)
	}

	requestID := uuid.NewString()
	redirectURL, err := sp.BuildAuthURL(requestID)
	if err != nil {
		return nil, NewAuthenticationError("failed to build SAML redirect URL", err)
	}

	state := &AuthenticationRequestState{
		OrganizationID: organizationID,
		ReturnURL:      returnURL,
		RequestID:      requestID,
		IssuedAt:       time.Now().UTC(),
		Config:         config,
	}
	if err := storeRequestState(ctx, p.cache, samlStateKeyPrefix+requestID, state); err != nil {
		return nil, err
	}

	return &InitiationResult{
		RedirectURL: redirectURL,
		RequestBody: base64.StdEncoding.EncodeToString([]byte(requestXML)),
		RelayState:  requestID,
	}, nil
}

// HandleCallback validates a SAML response POSTed back by the IdP. The
// relay state is consumed atomically; a replayed or unknown relay
// state fails as an authentication error.
func (p *SAMLProtocol) HandleCallback(ctx context.Context, callback CallbackData) (*CallbackResult, error) {
	samlResponse := callback["SAMLResponse"]
	if samlResponse == "" {
		return nil, NewAuthenticationError("missing SAMLResponse parameter", nil)
	}
	relayState := callback["RelayState"]
	if relayState == "" {
		return nil, NewAuthenticationError("missing RelayState parameter", nil)
	}

	state, err := consumeRequestState(ctx, p.cache, samlStateKeyPrefix+relayState)
	if err != nil {
		return nil, err
	}

	sp, err := p.buildServiceProvider(state.Config)
	if err != nil {
		return nil, err
	}

	assertionInfo, err := sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return nil, NewAuthenticationError("identity provider rejected the authentication", err)
	}
	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, NewAuthenticationError("SAML assertion is outside its validity window", nil)
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, NewAuthenticationError("SAML assertion audience does not include this service provider", nil)
		}
	}

	attrs := make(map[string][]string, len(assertionInfo.Values))
	rawAttrs := make(map[string]interface{}, len(assertionInfo.Values))
	for name, attr := range assertionInfo.Values {
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		attrs[name] = values
		rawAttrs[name] = values
	}

	user, err := p.mapper.MapSAMLAttributes(attrs, state.Config.AttributeMapping)
	if err != nil {
		return nil, err
	}
	user.Subject = assertionInfo.NameID

	return &CallbackResult{
		User: user,
		Session: SessionData{
			NameID:       assertionInfo.NameID,
			SessionIndex: assertionInfo.SessionIndex,
			Attributes:   rawAttrs,
		},
		ReturnURL:      state.ReturnURL,
		OrganizationID: state.OrganizationID,
	}, nil
}

// InitiateLogout builds a SAML LogoutRequest for the session. The
// organization must have an slo_url configured; the caller performs
// the actual redirect.
func (p *SAMLProtocol) InitiateLogout(ctx context.Context, session *SSOSession, config *SSOConfiguration, returnURL string) (*LogoutRedirect, error) {
	sloURL := config.Config[samlKeySLOURL]
	if sloURL == "" {
		return nil, NewValidationError(samlKeySLOURL, "single logout URL is not configured")
	}

	issuer := config.Config[samlKeySPEntityID]
	if issuer == "" {
		issuer = config.Config[samlKeyACSURL]
	}

	logoutXML := buildLogoutRequestXML(issuer, sloURL, session.NameID, session.SessionIndex)
	encoded := base64.StdEncoding.EncodeToString([]byte(logoutXML))

	u, err := url.Parse(sloURL)
	if err != nil {
		return nil, NewValidationError(samlKeySLOURL, "single logout URL is malformed")
	}
	q := u.Query()
	q.Set("SAMLRequest", encoded)
	if returnURL != "" {
		q.Set("RelayState", returnURL)
	}
	u.RawQuery = q.Encode()

	return &LogoutRedirect{RedirectURL: u.String(), RequestBody: encoded}, nil
}

// buildServiceProvider assembles a gosaml2 service provider from the
// organization's typed SAML settings.
func (p *SAMLProtocol) buildServiceProvider(config *SSOConfiguration) (*saml2.SAMLServiceProvider, error) {
	cfg := config.Config

	certDER, err := decodeCertificateValue(cfg[samlKeyCertificate])
	if err != nil {
		return nil, NewValidationError(samlKeyCertificate, "certificate is not valid base64-encoded X.509 data")
	}
	idpCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, &CertificateError{Message: "failed to parse IdP certificate", Cause: err}
	}

	certStore := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{idpCert}}

	spIssuer := cfg[samlKeySPEntityID]
	if spIssuer == "" {
		spIssuer = cfg[samlKeyACSURL]
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg[samlKeySSOURL],
		IdentityProviderIssuer:      cfg[samlKeyEntityID],
		ServiceProviderIssuer:       spIssuer,
		AssertionConsumerServiceURL: cfg[samlKeyACSURL],
		SignAuthnRequests:           parseConfigBool(cfg[samlKeySignRequest]),
		AudienceURI:                 spIssuer,
		IDPCertificateStore:         certStore,
		AllowMissingAttributes:      true,
	}
	if format := cfg[samlKeyNameIDFormat]; format != "" {
		sp.NameIdFormat = format
	}
	// Signed assertions are the default; an explicit "false" opts out
	// for IdPs that only sign the response envelope.
	if v := cfg[samlKeyWantAssertionsSigned]; v != "" && !parseConfigBool(v) {
		sp.SkipSignatureValidation = true
	}
	// The SP key store is needed both to sign outgoing requests and to
	// decrypt incoming encrypted assertions.
	if sp.SignAuthnRequests || parseConfigBool(cfg[samlKeyEncryptAssertion]) {
		keyStore, err := buildSPKeyStore(cfg[samlKeySPPrivateKey], cfg[samlKeySPCertificate])
		if err != nil {
			return nil, err
		}
		sp.SPKeyStore = keyStore
	}

	return sp, nil
}

// ServiceProviderMetadata renders the SP metadata document for the
// organization's SAML configuration. IdPs import this to set up the
// trust relationship.
func (p *SAMLProtocol) ServiceProviderMetadata(config *SSOConfiguration) ([]byte, error) {
	if err := p.ValidateConfiguration(config.Config); err != nil {
		return nil, err
	}
	sp, err := p.buildServiceProvider(config)
	if err != nil {
		return nil, err
	}
	descriptor, err := sp.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to build SP metadata: %w", err)
	}
	return xml.MarshalIndent(descriptor, "", "  ")
}

// buildSPKeyStore parses the SP signing key (PKCS#1 with a PKCS#8
// fallback) and certificate into a goxmldsig key store.
func buildSPKeyStore(keyPEM, certPEM string) (dsig.X509KeyStore, error) {
	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, NewValidationError(samlKeySPPrivateKey, "private key is not valid PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, err8 := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err8 != nil {
			return nil, NewValidationError(samlKeySPPrivateKey, "private key is neither PKCS#1 nor PKCS#8 RSA")
		}
		rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, NewValidationError(samlKeySPPrivateKey, "private key is not RSA")
		}
		privateKey = rsaKey
	}

	var certBytes [][]byte
	if certPEM != "" {
		certDER, err := decodeCertificateValue(certPEM)
		if err != nil {
			return nil, NewValidationError(samlKeySPCertificate, "certificate is not valid base64-encoded X.509 data")
		}
		certBytes = [][]byte{certDER}
	}

	return &dsig.TLSCertKeyStore{PrivateKey: privateKey, Certificate: certBytes}, nil
}

// decodeCertificateValue accepts a certificate either as a full PEM
// block or as bare base64 DER, strips delimiters and whitespace, and
// returns the DER bytes.
func decodeCertificateValue(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty certificate")
	}
	if strings.Contains(trimmed, "BEGIN CERTIFICATE") {
		block, _ := pem.Decode([]byte(trimmed))
		if block == nil {
			return nil, fmt.Errorf("invalid certificate PEM")
		}
		return block.Bytes, nil
	}
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, trimmed)
	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 certificate: %w", err)
	}
	return der, nil
}

func parseConfigBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// buildLogoutRequestXML renders a minimal SAML 2.0 LogoutRequest for
// the HTTP-Redirect binding.
func buildLogoutRequestXML(issuer, destination, nameID, sessionIndex string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString("\n")
	fmt.Fprintf(&b, `<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion" ID="_%s" Version="2.0" IssueInstant="%s" Destination="%s">`,
		uuid.NewString(), time.Now().UTC().Format("2006-01-02T15:04:05Z"), xmlEscape(destination))
	fmt.Fprintf(&b, `<saml:Issuer>%s</saml:Issuer>`, xmlEscape(issuer))
	fmt.Fprintf(&b, `<saml:NameID>%s</saml:NameID>`, xmlEscape(nameID))
	if sessionIndex != "" {
		fmt.Fprintf(&b, `<samlp:SessionIndex>%s</samlp:SessionIndex>`, xmlEscape(sessionIndex))
	}
	b.WriteString(`</samlp:LogoutRequest>`)
	return b.String()
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}
