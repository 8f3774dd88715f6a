// Package auth verifies the bearer tokens clients present before a
// connection is accepted. The session engine has no HTTP client of its
// own, so authentication happens once up front and yields a Principal
// naming the authenticated user.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers any malformed, unparseable, or badly
	// signed token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken is returned for an otherwise well-formed token
	// past its exp claim.
	ErrExpiredToken = errors.New("auth: token expired")
)

// Principal is the authenticated identity recovered from a token's
// claims: the (username, domain) pair a LOGIN would otherwise assert.
type Principal struct {
	Subject string
	Domain  string
}

type claims struct {
	Domain string `json:"domain"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens against a fixed HMAC key, the simplest
// member of the jwt/v5 SigningMethod family.
type Verifier struct {
	key []byte
}

// NewVerifier constructs a Verifier using key to validate signatures.
func NewVerifier(key []byte) *Verifier {
	return &Verifier{key: key}
}

// Verify parses and validates token, returning the Principal it
// asserts.
func (v *Verifier) Verify(token string) (Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	return Principal{
		Subject: c.Subject,
		Domain:  c.Domain,
	}, nil
}

// Issue mints a token for subject in domain, valid for ttl. Exercised
// by tests and by any internal service that bridges a previously
// authenticated session into a short-lived IMAP credential.
func (v *Verifier) Issue(subject, domain string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Domain: domain,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
