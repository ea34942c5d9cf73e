package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/clock"
)

// Claims is the JWT payload: standard registered claims plus the role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HMAC bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokenIssuer builds an issuer from the session secret and TTL.
func NewTokenIssuer(secret string, ttl time.Duration, clk clock.Clock) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("identity: session secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

// Issue signs a token for the principal. The returned jti keys the
// session record.
func (t *TokenIssuer) Issue(p Principal) (token, jti string, expiresAt time.Time, err error) {
	now := t.clock.Now()
	jti = uuid.NewString()
	expiresAt = now.Add(t.ttl)
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, jti, expiresAt, nil
}

// Verify parses the token and returns the principal and the jti.
// Failures map to Unauthorized.
func (t *TokenIssuer) Verify(token string) (Principal, string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.clock.Now))
	if err != nil || !parsed.Valid {
		return Principal{}, "", apperr.Wrap(apperr.KindUnauthorized, "invalid or expired credential", err)
	}
	role := Role(claims.Role)
	if role != RoleCustomer && role != RoleVendor {
		return Principal{}, "", apperr.Unauthorized("unknown role in credential")
	}
	if claims.Subject == "" {
		return Principal{}, "", apperr.Unauthorized("credential missing subject")
	}
	return Principal{ID: claims.Subject, Role: role}, claims.ID, nil
}
