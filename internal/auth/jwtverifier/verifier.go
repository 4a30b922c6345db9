// Package jwtverifier implements auth.Verifier against HS256-signed
// bearer tokens, for deployments that front the hub with an
// authenticator issuing its own signed tokens rather than opaque ones.
package jwtverifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set the hub expects from an upstream
// authenticator. Extra claims are ignored rather than rejected.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against a single shared secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// New returns a Verifier. issuer may be empty to skip issuer checking.
func New(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer, leeway: 5 * time.Second}
}

func (v *Verifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return "", fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}

	subject := claims.Subject
	if subject == "" {
		return "", errors.New("token missing subject")
	}
	return subject, nil
}
