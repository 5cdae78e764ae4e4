package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// OIDC configuration keys.
const (
	oidcKeyIssuer                = "issuer"
	oidcKeyClientID              = "client_id"
	oidcKeyClientSecret          = "client_secret"
	oidcKeyAuthorizationEndpoint = "authorization_endpoint"
	oidcKeyTokenEndpoint         = "token_endpoint"
	oidcKeyRedirectURI           = "redirect_uri"
	oidcKeyUserinfoEndpoint      = "userinfo_endpoint"
	oidcKeyJWKSURI               = "jwks_uri"
	oidcKeyRevocationEndpoint    = "revocation_endpoint"
	oidcKeyScopes                = "scopes"
	oidcKeyPrompt                = "prompt"
	oidcKeyMaxAge                = "max_age"
)

var oidcRequiredFields = []string{
	oidcKeyIssuer, oidcKeyClientID, oidcKeyClientSecret,
	oidcKeyAuthorizationEndpoint, oidcKeyTokenEndpoint, oidcKeyRedirectURI,
}

const (
	oidcStateKeyPrefix = "oidc_state:"
	defaultOIDCScopes  = "openid profile email"
)

// OIDCProtocol implements the OpenID Connect authorization code flow.
// ID tokens are verified against the issuer's JWKS with RSA keys
// resolved by kid; the nonce stored at initiation must round-trip
// through the token.
type OIDCProtocol struct {
	cache      Cache
	mapper     *AttributeMapper
	jwks       *JWKSResolver
	httpClient *http.Client
}

// NewOIDCProtocol creates the OIDC handler. A nil client gets a
// bounded default timeout.
func NewOIDCProtocol(cache Cache, mapper *AttributeMapper, httpClient *http.Client) *OIDCProtocol {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &OIDCProtocol{
		cache:      cache,
		mapper:     mapper,
		jwks:       NewJWKSResolver(httpClient),
		httpClient: httpClient,
	}
}

// Name returns "oidc".
func (p *OIDCProtocol) Name() ProtocolName { return ProtocolOIDC }

// RequiredConfigFields lists the mandatory OIDC configuration keys.
func (p *OIDCProtocol) RequiredConfigFields() []string {
	return append([]string(nil), oidcRequiredFields...)
}

// ValidateConfiguration checks the OIDC configuration: required
// fields and URL shape for every endpoint, issuer included.
func (p *OIDCProtocol) ValidateConfiguration(config map[string]string) error {
	if err := requireConfigFields(config, oidcRequiredFields); err != nil {
		return err
	}
	urlFields := []string{
		oidcKeyIssuer, oidcKeyAuthorizationEndpoint, oidcKeyTokenEndpoint,
		oidcKeyRedirectURI, oidcKeyUserinfoEndpoint, oidcKeyJWKSURI, oidcKeyRevocationEndpoint,
	}
	for _, field := range urlFields {
		if err := requireHTTPURL(config, field); err != nil {
			return err
		}
	}
	return nil
}

// InitiateAuthentication generates state and nonce, stores the request
// state keyed by the state value, and returns the authorization URL.
func (p *OIDCProtocol) InitiateAuthentication(ctx context.Context, organizationID, returnURL string, config *SSOConfiguration) (*InitiationResult, error) {
	if err := p.ValidateConfiguration(config.Config); err != nil {
		return nil, err
	}

	state, err := randomToken()
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, err
	}

	reqState := &AuthenticationRequestState{
		OrganizationID: organizationID,
		ReturnURL:      returnURL,
		RequestID:      state,
		Nonce:          nonce,
		IssuedAt:       time.Now().UTC(),
		Config:         config,
	}
	if err := storeRequestState(ctx, p.cache, oidcStateKeyPrefix+state, reqState); err != nil {
		return nil, err
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if prompt := config.Config[oidcKeyPrompt]; prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", prompt))
	}
	if maxAge := config.Config[oidcKeyMaxAge]; maxAge != "" {
		opts = append(opts, oauth2.SetAuthURLParam("max_age", maxAge))
	}

	authURL := p.oauth2Config(config).AuthCodeURL(state, opts...)
	return &InitiationResult{RedirectURL: authURL, RelayState: state}, nil
}

// HandleCallback exchanges the authorization code, verifies the ID
// token, optionally merges userinfo claims, and maps the result. The
// state value is consumed atomically; replay fails.
func (p *OIDCProtocol) HandleCallback(ctx context.Context, callback CallbackData) (*CallbackResult, error) {
	if provErr := callback["error"]; provErr != "" {
		msg := provErr
		if desc := callback["error_description"]; desc != "" {
			msg = provErr + ": " + desc
		}
		return nil, NewAuthenticationError("identity provider returned an error: "+msg, nil)
	}

	code := callback["code"]
	if code == "" {
		return nil, NewAuthenticationError("missing authorization code", nil)
	}
	stateValue := callback["state"]
	if stateValue == "" {
		return nil, NewAuthenticationError("missing state parameter", nil)
	}

	state, err := consumeRequestState(ctx, p.cache, oidcStateKeyPrefix+stateValue)
	if err != nil {
		return nil, err
	}
	config := state.Config

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth2Config(config).Exchange(ctx, code)
	if err != nil {
		return nil, NewAuthenticationError("token exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, NewAuthenticationError("token response did not include an ID token", nil)
	}

	claims, err := p.verifyIDToken(ctx, config, rawIDToken, state.Nonce)
	if err != nil {
		return nil, err
	}

	// Merge order is deliberate and load-bearing: ID-token claims
	// first, then userinfo claims override on collision.
	merged := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		merged[k] = v
	}
	if userinfoEndpoint := config.Config[oidcKeyUserinfoEndpoint]; userinfoEndpoint != "" {
		userinfo, err := p.fetchUserinfo(ctx, userinfoEndpoint, token.AccessToken)
		if err == nil {
			for k, v := range userinfo {
				merged[k] = v
			}
		}
	}

	user, err := p.mapper.MapOIDCClaims(merged, config.AttributeMapping)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		User: user,
		Session: SessionData{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			IDToken:      rawIDToken,
			Attributes:   merged,
		},
		ReturnURL:      state.ReturnURL,
		OrganizationID: state.OrganizationID,
	}, nil
}

// RefreshTokens exchanges a refresh token for a fresh token pair at
// the configured token endpoint.
func (p *OIDCProtocol) RefreshTokens(ctx context.Context, config *SSOConfiguration, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, NewValidationError("refresh_token", "refresh token is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	source := p.oauth2Config(config).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, NewAuthenticationError("token refresh failed", err)
	}

	pair := &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if !token.Expiry.IsZero() {
		pair.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// RevokeToken revokes a token per RFC 7009. A missing revocation
// endpoint is a successful no-op; any 2xx from the IdP is success.
func (p *OIDCProtocol) RevokeToken(ctx context.Context, config *SSOConfiguration, token, tokenTypeHint string) (bool, error) {
	endpoint := config.Config[oidcKeyRevocationEndpoint]
	if endpoint == "" {
		return true, nil
	}

	form := url.Values{}
	form.Set("token", token)
	if tokenTypeHint != "" {
		form.Set("token_type_hint", tokenTypeHint)
	}
	form.Set("client_id", config.Config[oidcKeyClientID])
	form.Set("client_secret", config.Config[oidcKeyClientSecret])

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, NewAuthenticationError("token revocation request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, nil
	}
	return false, NewAuthenticationError(fmt.Sprintf("revocation endpoint returned status %d", resp.StatusCode), nil)
}

// DiscoverConfiguration resolves an issuer's published metadata and
// returns the corresponding endpoint configuration keys. Used by
// admin tooling to pre-fill a configuration from a bare issuer URL.
func (p *OIDCProtocol) DiscoverConfiguration(ctx context.Context, issuer string) (map[string]string, error) {
	ctx = oidc.ClientContext(ctx, p.httpClient)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("issuer discovery failed for %s: %v", issuer, err)}
	}

	var meta struct {
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
		UserinfoEndpoint      string `json:"userinfo_endpoint"`
		JWKSURI               string `json:"jwks_uri"`
		RevocationEndpoint    string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("failed to decode provider metadata: %v", err)}
	}

	discovered := map[string]string{
		oidcKeyIssuer:                issuer,
		oidcKeyAuthorizationEndpoint: meta.AuthorizationEndpoint,
		oidcKeyTokenEndpoint:         meta.TokenEndpoint,
	}
	if meta.UserinfoEndpoint != "" {
		discovered[oidcKeyUserinfoEndpoint] = meta.UserinfoEndpoint
	}
	if meta.JWKSURI != "" {
		discovered[oidcKeyJWKSURI] = meta.JWKSURI
	}
	if meta.RevocationEndpoint != "" {
		discovered[oidcKeyRevocationEndpoint] = meta.RevocationEndpoint
	}
	return discovered, nil
}

// verifyIDToken validates the ID token signature against the issuer's
// JWKS and checks issuer, audience, expiry, and nonce.
func (p *OIDCProtocol) verifyIDToken(ctx context.Context, config *SSOConfiguration, rawIDToken, expectedNonce string) (map[string]interface{}, error) {
	jwksURL := config.Config[oidcKeyJWKSURI]
	if jwksURL == "" {
		jwksURL = defaultJWKSURL(config.Config[oidcKeyIssuer])
	}

	keyFunc := func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("ID token header has no kid")
		}
		return p.jwks.ResolveKey(ctx, jwksURL, kid)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawIDToken, claims, keyFunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(config.Config[oidcKeyIssuer]),
		jwt.WithAudience(config.Config[oidcKeyClientID]),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, NewAuthenticationError("ID token validation failed", err)
	}

	nonce, _ := claims["nonce"].(string)
	if expectedNonce == "" || nonce != expectedNonce {
		return nil, NewAuthenticationError("ID token nonce does not match the authentication request", nil)
	}

	return map[string]interface{}(claims), nil
}

// fetchUserinfo retrieves the userinfo document with the access token.
func (p *OIDCProtocol) fetchUserinfo(ctx context.Context, endpoint, accessToken string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return claims, nil
}

// oauth2Config assembles the oauth2 client configuration. Client
// credentials go in the request body, matching what most enterprise
// IdPs accept for confidential web clients.
func (p *OIDCProtocol) oauth2Config(config *SSOConfiguration) *oauth2.Config {
	scopes := strings.Fields(config.Config[oidcKeyScopes])
	if len(scopes) == 0 {
		scopes = strings.Fields(defaultOIDCScopes)
	}
	return &oauth2.Config{
		ClientID:     config.Config[oidcKeyClientID],
		ClientSecret: config.Config[oidcKeyClientSecret],
		RedirectURL:  config.Config[oidcKeyRedirectURI],
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   config.Config[oidcKeyAuthorizationEndpoint],
			TokenURL:  config.Config[oidcKeyTokenEndpoint],
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// randomToken returns 32 bytes of cryptographic randomness, base64url
// encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
