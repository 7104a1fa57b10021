// Package auth issues and verifies the signed bearer tokens presented on
// connection. Verification resolves the token's subject against the account
// store; every failure mode collapses to ErrInvalidToken so callers cannot
// distinguish a bad signature from an expired token or a deleted account.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pairchat-backend/internal/storage"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated user a token resolves to.
type Identity struct {
	ID       string
	Username string
}

// UserLookup is the slice of the account store the verifier needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (storage.UserRow, error)
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
	users  UserLookup
}

func New(secret string, ttl time.Duration, users UserLookup) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		ttl:    ttl,
		users:  users,
	}
}

// Issue signs an access token for the user.
func (t *Tokens) Issue(userID string, now time.Time) (token string, expiresAt time.Time, err error) {
	expiresAt = now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify validates the token's signature and expiry and resolves its subject
// to an existing account. No side effects.
func (t *Tokens) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	user, err := t.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		// Unknown account and storage failure look the same to the caller.
		return Identity{}, ErrInvalidToken
	}

	return Identity{ID: user.ID, Username: user.Username}, nil
}
