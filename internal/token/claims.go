// file: internal/token/claims.go
// version: 1.0.0
// guid: 5b9c0d1e-2f3a-4b5c-8d7e-9f0a1b2c3d4e

package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextClaims is the claim set carried by a context token: which user is
// acting on behalf of which SFD institution.
type ContextClaims struct {
	UserID string `json:"user_id"`
	SfdID  string `json:"sfd_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes a context token without verifying its signature. The
// gateway only needs the expiry to decide whether to refresh; authoritative
// validation happens server-side.
func ParseClaims(tokenStr string) (*ContextClaims, error) {
	var claims ContextClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse context token: %w", err)
	}
	return &claims, nil
}

// ExpiresWithin reports whether the token expires within d of now, or has no
// parseable expiry at all. Unparseable tokens are treated as stale so the
// caller refreshes rather than dispatching a token it cannot reason about.
func ExpiresWithin(tokenStr string, d time.Duration, now time.Time) bool {
	claims, err := ParseClaims(tokenStr)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !now.Add(d).Before(claims.ExpiresAt.Time)
}

// LocalIssuer mints HS256-signed context tokens. It backs the daemon's token
// endpoint and test fixtures; production deployments normally point the
// manager at the platform's remote issuance endpoint instead.
type LocalIssuer struct {
	Secret []byte
	TTL    time.Duration
	Issuer string

	now func() time.Time
}

// NewLocalIssuer creates an issuer with the given signing secret and token
// lifetime. Pass 0 for ttl to default to one hour.
func NewLocalIssuer(secret []byte, ttl time.Duration) *LocalIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalIssuer{
		Secret: secret,
		TTL:    ttl,
		Issuer: "sfd-gateway",
		now:    time.Now,
	}
}

// Sign issues a signed context token for (sfdID, userID) and returns the
// compact JWT plus its lifetime in seconds.
func (l *LocalIssuer) Sign(sfdID, userID string) (string, int, error) {
	now := l.now()
	claims := ContextClaims{
		UserID: userID,
		SfdID:  sfdID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    l.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(l.TTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(l.Secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign context token: %w", err)
	}
	return signed, int(l.TTL.Seconds()), nil
}
