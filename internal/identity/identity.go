// Package identity derives the signed-in user from a Supabase-style access
// token. The remote service remains the authority on token validity; with
// no secret configured tokens are decoded without signature checks.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("missing access token")
	ErrMissingSubject = errors.New("token has no subject")
	ErrInvalidToken   = errors.New("invalid access token")
)

// Claims are the access token claims mapic reads. The user id is the
// registered "sub" claim.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier extracts claims from access tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier. A non-empty secret enables HS256
// signature verification.
func NewVerifier(secret string) *Verifier {
	v := &Verifier{now: time.Now}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// Verifies reports whether signatures are checked.
func (v *Verifier) Verifies() bool {
	return len(v.secret) > 0
}

// Parse returns the claims of token. An optional "Bearer " prefix is
// stripped. Expired tokens are rejected in both modes.
func (v *Verifier) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	if v.Verifies() {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, jwt.ErrSignatureInvalid
			}
			return v.secret, nil
		}, jwt.WithTimeFunc(v.now))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		if !parsed.Valid {
			return nil, ErrInvalidToken
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		if claims.ExpiresAt != nil && v.now().After(claims.ExpiresAt.Time) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, jwt.ErrTokenExpired)
		}
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// UserID returns the token's subject.
func (v *Verifier) UserID(token string) (string, error) {
	claims, err := v.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for userID. It is used for local
// development against a backend sharing the same secret.
func IssueToken(userID, secret string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("missing secret")
	}
	if userID == "" {
		return "", errors.New("missing userID")
	}
	if expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	now := time.Now()
	claims := Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
