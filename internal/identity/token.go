package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrEmptySecret is returned when IssuerTokens is built without a signing key.
var ErrEmptySecret = errors.New("issuer token secret must not be empty")

// IssuerClaims are the JWT claims of an issuer token. The subject is the
// issuer reference recorded on every certificate the bearer issues.
type IssuerClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// IssuerTokens issues and verifies issuer tokens signed with HS256.
type IssuerTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuerTokens creates an IssuerTokens. A zero ttl defaults to 24 hours.
func NewIssuerTokens(secret, issuer string, ttl time.Duration) (*IssuerTokens, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &IssuerTokens{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue signs a token for issuerRef.
func (t *IssuerTokens) Issue(issuerRef, name string) (string, error) {
	if issuerRef == "" {
		return "", errors.New("issuer reference must not be empty")
	}
	now := time.Now().UTC()
	claims := IssuerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   issuerRef,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Name: name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an issuer token, returning its claims.
func (t *IssuerTokens) Verify(tokenStr string) (*IssuerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&IssuerClaims{},
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

	claims, ok := token.Claims.(*IssuerClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *IssuerTokens) TTL() time.Duration { return t.ttl }
