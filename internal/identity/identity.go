// Package identity resolves the caller of a request to an identity and an admin verdict.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Identity is the signed-in caller.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verdict is the outcome of resolving a caller. Identity is nil for anonymous callers.
type Verdict struct {
	Identity *Identity
	IsAdmin  bool
}

// Session is returned after a successful sign in.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  Identity
}

// Provider is the authentication collaborator the resolver consults.
type Provider interface {
	CurrentSession(ctx context.Context) (*Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
}

// ErrInvalidCredentials is returned when an email and password pair does not match a user.
var ErrInvalidCredentials = eris.New("invalid email or password")

type tokenContextKey struct{}

// WithToken stores the caller's bearer token on the context.
func WithToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(tokenContextKey{}).(string)
	return token
}

// NormalizeEmail trims and lowercases an address. Allow-list lookups and admin requests
// always compare normalized addresses.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
