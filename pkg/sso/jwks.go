package sso

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// jwksCacheTTL bounds how long a fetched key set is trusted. IdP key
// rotation becomes visible within this window without a restart.
const jwksCacheTTL = time.Hour

const jwksCacheSize = 128

// JWKSResolver fetches and caches JSON Web Key Sets per issuer and
// resolves RSA verification keys by kid.
type JWKSResolver struct {
	httpClient *http.Client
	sets       *expirable.LRU[string, jwk.Set]
}

// NewJWKSResolver creates a resolver using the given HTTP client. A
// nil client gets a bounded default timeout.
func NewJWKSResolver(httpClient *http.Client) *JWKSResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSResolver{
		httpClient: httpClient,
		sets:       expirable.NewLRU[string, jwk.Set](jwksCacheSize, nil, jwksCacheTTL),
	}
}

// ResolveKey returns the RSA public key with the given kid from the
// issuer's key set. Key sets are cached per JWKS URL; a miss triggers
// a fetch.
func (r *JWKSResolver) ResolveKey(ctx context.Context, jwksURL, kid string) (*rsa.PublicKey, error) {
	set, ok := r.sets.Get(jwksURL)
	if !ok {
		fetched, err := r.fetch(ctx, jwksURL)
		if err != nil {
			return nil, err
		}
		r.sets.Add(jwksURL, fetched)
		set = fetched
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		// The kid may belong to a freshly rotated key; refetch once
		// before giving up.
		fetched, err := r.fetch(ctx, jwksURL)
		if err != nil {
			return nil, err
		}
		r.sets.Add(jwksURL, fetched)
		key, found = fetched.LookupKeyID(kid)
		if !found {
			return nil, NewAuthenticationError(fmt.Sprintf("no signing key with kid %q in JWKS", kid), nil)
		}
	}

	var rsaKey rsa.PublicKey
	if err := key.Raw(&rsaKey); err != nil {
		return nil, NewAuthenticationError("signing key is not an RSA public key", err)
	}
	return &rsaKey, nil
}

func (r *JWKSResolver) fetch(ctx context.Context, jwksURL string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid JWKS URL: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, NewAuthenticationError("failed to fetch JWKS", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewAuthenticationError(fmt.Sprintf("JWKS endpoint returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewAuthenticationError("failed to read JWKS response", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, NewAuthenticationError("failed to parse JWKS document", err)
	}
	return set, nil
}

// defaultJWKSURL derives the conventional JWKS location for an issuer
// when no jwks_uri is configured.
func defaultJWKSURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}
