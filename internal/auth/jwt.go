// Package auth issues and validates user JWTs, API keys, and runner tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenTTL  = 60 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

// Claims is the JWT payload for an authenticated user.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	TokenUse string `json:"token_use"` // "access" or "refresh"
	jwt.RegisteredClaims
}

// Issuer signs and validates HS256 user JWTs.
type Issuer struct {
	signingKey []byte
}

// NewIssuer constructs an Issuer from JWT_SIGNING_KEY.
func NewIssuer(signingKey string) *Issuer {
	return &Issuer{signingKey: []byte(signingKey)}
}

// IssueAccessToken issues a 60-minute access token for userID/tenantID.
func (i *Issuer) IssueAccessToken(userID, tenantID string) (string, error) {
	return i.issue(userID, tenantID, "access", accessTokenTTL)
}

// IssueRefreshToken issues a 7-day refresh token for userID/tenantID.
func (i *Issuer) IssueRefreshToken(userID, tenantID string) (string, error) {
	return i.issue(userID, tenantID, "refresh", refreshTokenTTL)
}

func (i *Issuer) issue(userID, tenantID, use string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		TenantID: tenantID,
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "mergeci",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.signingKey)
}

// Validate parses and verifies a token, returning its claims.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 digest of a token, the form stored and
// compared server-side (sessions, API keys, runner tokens).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// randomURLSafeSecret returns a base64url-encoded random byte string of the
// given length, used for API key and runner token bodies.
func randomURLSafeSecret(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
