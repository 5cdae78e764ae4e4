package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenSubject is the identity bound into an issued token pair.
type TokenSubject struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	SSOSessionID   string `json:"sso_session_id"`
}

// tokenClaims is the JWT claim set carried by both access and refresh
// tokens.
type tokenClaims struct {
	TokenSubject
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenService mints and parses the platform's bearer token pairs.
type TokenService struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a token service signing with the given HMAC
// key.
func NewTokenService(signingKey []byte, issuer string, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssuePair mints an access/refresh token pair for the subject.
// Returns the two signed tokens and the access token lifetime in
// seconds.
func (s *TokenService) IssuePair(subject TokenSubject) (accessToken, refreshToken string, expiresIn int64, err error) {
	accessToken, err = s.sign(subject, "access", s.accessTTL)
	if err != nil {
		return "", "", 0, err
	}
	refreshToken, err = s.sign(subject, "refresh", s.refreshTTL)
	if err != nil {
		return "", "", 0, err
	}
	return accessToken, refreshToken, int64(s.accessTTL.Seconds()), nil
}

// ParseAccessToken validates an access token and returns its subject.
func (s *TokenService) ParseAccessToken(tokenString string) (*TokenSubject, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.TokenUse != "access" {
		return nil, fmt.Errorf("token is not a valid access token")
	}
	return &claims.TokenSubject, nil
}

func (s *TokenService) sign(subject TokenSubject, use string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		TokenSubject: subject,
		TokenUse:     use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   subject.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", use, err)
	}
	return signed, nil
}
