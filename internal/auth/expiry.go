package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrOpaqueToken  = errors.New("token is not a JWT")
	ErrTokenExpired = errors.New("token expired")
)

// Expiry returns the exp claim of a JWT access token without verifying its
// signature; the server does that on the handshake. ok is false when the
// token carries no exp claim.
func Expiry(token string) (exp time.Time, ok bool, err error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// CheckExpiry returns ErrTokenExpired if token is a JWT that expired at or
// before now. Opaque tokens and tokens without exp pass.
func CheckExpiry(token string, now time.Time) error {
	exp, ok, err := Expiry(token)
	if err != nil || !ok {
		return nil
	}
	if !now.Before(exp) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}
	return nil
}

// TokenSource provides a bearer credential.
type TokenSource interface {
	Token() (string, error)
}

// Unexpired wraps a source so that an expired JWT is reported as an error
// instead of being sent on a handshake the server will refuse.
type Unexpired struct {
	Source TokenSource
	Now    func() time.Time // Defaults to time.Now
}

func (u Unexpired) Token() (string, error) {
	token, err := u.Source.Token()
	if err != nil || token == "" {
		return token, err
	}
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	if err := CheckExpiry(token, now()); err != nil {
		return "", err
	}
	return token, nil
}
