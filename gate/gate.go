// Package gate authenticates out-of-band workers that trigger envelope
// reconciliation. Workers present a short-lived HS256 token signed with the
// shared secret; there is no user identity involved.
package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeReconcile is the only scope the gate currently admits.
const ScopeReconcile = "reconcile"

// ErrUnauthorized signals a missing, malformed, expired, or wrongly scoped
// token.
var ErrUnauthorized = errors.New("gate: unauthorized")

// Gate verifies worker tokens against the shared secret.
type Gate struct {
	secret []byte
}

func New(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// IssueToken mints a token for a worker. Mostly used by operational tooling
// and tests; production workers are handed the secret and mint their own.
func (g *Gate) IssueToken(scope string, ttl time.Duration) (string, error) {
	if len(g.secret) == 0 {
		return "", fmt.Errorf("gate: shared secret not configured")
	}
	claims := jwt.MapClaims{
		"scope": scope,
		"exp":   time.Now().Add(ttl).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("gate: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature, expiry, and scope.
func (g *Gate) VerifyToken(tokenString, wantScope string) error {
	if len(g.secret) == 0 {
		return fmt.Errorf("gate: shared secret not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrUnauthorized
	}
	scope, ok := claims["scope"].(string)
	if !ok || scope != wantScope {
		return ErrUnauthorized
	}
	return nil
}
