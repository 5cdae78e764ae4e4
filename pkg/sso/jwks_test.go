package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jwksTestServer serves a mutable JWKS document and counts fetches.
type jwksTestServer struct {
	*httptest.Server
	keys    atomic.Value // jwk.Set
	fetches atomic.Int64
}

func newJWKSTestServer(t *testing.T) *jwksTestServer {
	t.Helper()
	s := &jwksTestServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		set := s.keys.Load().(jwk.Set)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksTestServer) setKeys(t *testing.T, kids ...string) map[string]*rsa.PrivateKey {
	t.Helper()
	set := jwk.NewSet()
	private := make(map[string]*rsa.PrivateKey, len(kids))
	for _, kid := range kids {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		private[kid] = key

		pub, err := jwk.FromRaw(key.Public())
		require.NoError(t, err)
		require.NoError(t, pub.Set(jwk.KeyIDKey, kid))
		require.NoError(t, pub.Set(jwk.AlgorithmKey, "RS256"))
		require.NoError(t, set.AddKey(pub))
	}
	s.keys.Store(set)
	return private
}

func TestJWKSResolveKey(t *testing.T) {
	server := newJWKSTestServer(t)
	private := server.setKeys(t, "key-1")

	resolver := NewJWKSResolver(server.Client())
	got, err := resolver.ResolveKey(context.Background(), server.URL, "key-1")
	require.NoError(t, err)
	assert.Equal(t, private["key-1"].PublicKey.N, got.N)
	assert.Equal(t, int64(1), server.fetches.Load())
}

func TestJWKSResolveKeyCachesSet(t *testing.T) {
	server := newJWKSTestServer(t)
	server.setKeys(t, "key-1", "key-2")

	resolver := NewJWKSResolver(server.Client())
	ctx := context.Background()

	_, err := resolver.ResolveKey(ctx, server.URL, "key-1")
	require.NoError(t, err)
	_, err = resolver.ResolveKey(ctx, server.URL, "key-2")
	require.NoError(t, err)

	// Both lookups were served from one fetch.
	assert.Equal(t, int64(1), server.fetches.Load())
}

func TestJWKSResolveKeyRefetchesOnRotation(t *testing.T) {
	server := newJWKSTestServer(t)
	server.setKeys(t, "old-key")

	resolver := NewJWKSResolver(server.Client())
	ctx := context.Background()

	_, err := resolver.ResolveKey(ctx, server.URL, "old-key")
	require.NoError(t, err)

	// The IdP rotates; the cached set no longer has the new kid, so
	// the resolver refetches once.
	server.setKeys(t, "new-key")
	_, err = resolver.ResolveKey(ctx, server.URL, "new-key")
	require.NoError(t, err)
	assert.Equal(t, int64(2), server.fetches.Load())
}

func TestJWKSResolveKeyUnknownKid(t *testing.T) {
	server := newJWKSTestServer(t)
	server.setKeys(t, "key-1")

	resolver := NewJWKSResolver(server.Client())
	_, err := resolver.ResolveKey(context.Background(), server.URL, "no-such-kid")
	require.Error(t, err)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "no-such-kid")
}

func TestJWKSResolveKeyEndpointError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver := NewJWKSResolver(server.Client())
	_, err := resolver.ResolveKey(context.Background(), server.URL, "key-1")
	require.Error(t, err)
	var authErr *AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestDefaultJWKSURL(t *testing.T) {
	assert.Equal(t, "https://idp.example.com/.well-known/jwks.json", defaultJWKSURL("https://idp.example.com"))
	assert.Equal(t, "https://idp.example.com/.well-known/jwks.json", defaultJWKSURL("https://idp.example.com/"))
}
