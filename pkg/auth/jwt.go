package auth

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// accessTokenAlgorithms are the algorithms accepted when peeking into an
// upstream access token.
var accessTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

// AccessTokenClaims are the registered claims read from an upstream access
// token. They are read without verification and only used for cache timing.
type AccessTokenClaims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// PeekAccessToken decodes the claims of a JWT access token without checking
// its signature. The resource server is the one that verifies it.
func PeekAccessToken(raw string) (*AccessTokenClaims, error) {
	tok, err := jwt.ParseSigned(raw, accessTokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT claims: %w", err)
	}

	out := &AccessTokenClaims{
		Issuer:   claims.Issuer,
		Subject:  claims.Subject,
		Audience: []string(claims.Audience),
	}
	if claims.Expiry != nil {
		out.ExpiresAt = claims.Expiry.Time()
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time()
	}
	return out, nil
}

// TokenExpiry returns the exp claim of a JWT access token. Opaque tokens and
// tokens without exp report false.
func TokenExpiry(raw string) (time.Time, bool) {
	claims, err := PeekAccessToken(raw)
	if err != nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}
