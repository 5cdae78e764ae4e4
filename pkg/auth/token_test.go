package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenService() *TokenService {
	return NewTokenService(testSigningKey, "fedgate", time.Hour, 30*24*time.Hour)
}

func testSubject() TokenSubject {
	return TokenSubject{
		UserID:         "user-1",
		OrganizationID: "org-1",
		Email:          "jane@example.com",
		Role:           "member",
		SSOSessionID:   "sess-1",
	}
}

func TestIssuePairAndParse(t *testing.T) {
	svc := newTestTokenService()

	access, refresh, expiresIn, err := svc.IssuePair(testSubject())
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.NotEqual(t, access, refresh)
	assert.Equal(t, int64(3600), expiresIn)

	subject, err := svc.ParseAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject.UserID)
	assert.Equal(t, "org-1", subject.OrganizationID)
	assert.Equal(t, "jane@example.com", subject.Email)
	assert.Equal(t, "sess-1", subject.SSOSessionID)
}

func TestParseAccessTokenRejectsRefreshToken(t *testing.T) {
	svc := newTestTokenService()

	_, refresh, _, err := svc.IssuePair(testSubject())
	require.NoError(t, err)

	_, err = svc.ParseAccessToken(refresh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid access token")
}

func TestParseAccessTokenWrongKey(t *testing.T) {
	svc := newTestTokenService()
	access, _, _, err := svc.IssuePair(testSubject())
	require.NoError(t, err)

	other := NewTokenService([]byte("another-key-another-key-another!"), "fedgate", time.Hour, time.Hour)
	_, err = other.ParseAccessToken(access)
	assert.Error(t, err)
}

func TestParseAccessTokenWrongIssuer(t *testing.T) {
	svc := NewTokenService(testSigningKey, "someone-else", time.Hour, time.Hour)
	access, _, _, err := svc.IssuePair(testSubject())
	require.NoError(t, err)

	_, err = newTestTokenService().ParseAccessToken(access)
	assert.Error(t, err)
}

func TestParseAccessTokenExpired(t *testing.T) {
	svc := NewTokenService(testSigningKey, "fedgate", time.Hour, time.Hour)
	access, err := svc.sign(testSubject(), "access", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ParseAccessToken(access)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestParseAccessTokenGarbage(t *testing.T) {
	svc := newTestTokenService()

	_, err := svc.ParseAccessToken("not.a.jwt")
	assert.Error(t, err)
}

func TestNewTokenServiceDefaultsTTLs(t *testing.T) {
	svc := NewTokenService(testSigningKey, "fedgate", 0, 0)
	assert.Equal(t, time.Hour, svc.accessTTL)
	assert.Equal(t, 30*24*time.Hour, svc.refreshTTL)
}
