package identity

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"legjenda/app/internal/apperr"
)

// AdminLookup answers whether an email carries admin privileges.
type AdminLookup interface {
	IsAdmin(ctx context.Context, email string) (bool, error)
}

var _ AdminLookup = (*Allowlist)(nil)

// Resolver combines the session provider with the allow-list. Verdicts are never cached.
type Resolver struct {
	provider  Provider
	admins    AdminLookup
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

// NewResolver wires the resolver with its collaborators.
func NewResolver(provider Provider, admins AdminLookup, logger *logrus.Logger, hub *sentry.Hub) (*Resolver, error) {
	if provider == nil {
		return nil, eris.New("auth provider is required")
	}
	if admins == nil {
		return nil, eris.New("admin lookup is required")
	}

	return &Resolver{provider: provider, admins: admins, logger: logger, sentryHub: hub}, nil
}

// Resolve returns the caller's verdict. No session and no allow-list row both resolve to
// IsAdmin=false without error; only collaborator failures are returned.
func (r *Resolver) Resolve(ctx context.Context) (Verdict, error) {
	current, err := r.provider.CurrentSession(ctx)
	if err != nil {
		r.recordError(nil, err, "resolving current session")
		return Verdict{}, apperr.Dependency(err, "resolving current session")
	}
	if current == nil {
		return Verdict{}, nil
	}

	isAdmin, err := r.admins.IsAdmin(ctx, current.Email)
	if err != nil {
		r.recordError(logrus.Fields{"user_id": current.ID}, err, "resolving admin role")
		return Verdict{}, apperr.Dependency(err, "resolving admin role")
	}

	return Verdict{Identity: current, IsAdmin: isAdmin}, nil
}

// RequireIdentity returns the signed-in caller or a forbidden error.
func (r *Resolver) RequireIdentity(ctx context.Context) (*Identity, error) {
	verdict, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if verdict.Identity == nil {
		return nil, apperr.Forbidden("sign in required")
	}

	return verdict.Identity, nil
}

// RequireAdmin returns the caller when it is an admin and a forbidden error otherwise.
func (r *Resolver) RequireAdmin(ctx context.Context) (*Identity, error) {
	verdict, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if verdict.Identity == nil || !verdict.IsAdmin {
		return nil, apperr.Forbidden("admin privileges required")
	}

	return verdict.Identity, nil
}

func (r *Resolver) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if r.logger != nil {
		entry := r.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Warn(message)
	}

	if r.sentryHub != nil {
		r.sentryHub.CaptureException(err)
	}
}
