// Package identity issues and verifies governance tokens. The only privileged
// operation in the system — replacing the aggregate-key root — is gated on a
// valid governance token; any other caller is rejected.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GovernanceScope is the scope claim a token must carry to pass the
// governance gate.
const GovernanceScope = "governance"

// GovernanceClaims are the JWT claims for a governance token.
type GovernanceClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// TokenIssuer issues and verifies governance tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	secret — the shared governance secret; must be non-empty.
//	issuerURL — the "iss" claim value; typically the daemon's base URL.
//	ttl — token lifetime (default: 15 minutes).
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed governance token for the given operator subject.
func (t *TokenIssuer) Issue(subject string) (string, error) {
	now := time.Now().UTC()
	claims := GovernanceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Scope: GovernanceScope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a governance token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*GovernanceClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&GovernanceClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*GovernanceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Scope != GovernanceScope {
		return nil, fmt.Errorf("token lacks governance scope")
	}
	return claims, nil
}
