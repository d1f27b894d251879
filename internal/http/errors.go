package http

import (
	"context"
	stdhttp "net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/identity"
)

const (
	dependencyMessage = "A required service is temporarily unavailable. Please try again."
	internalMessage   = "We couldn't process your request right now."
)

// problem converts a service error into the matching HTTP error. Only dependency and
// unknown failures are reported; the rest are expected outcomes.
func (s *Server) problem(ctx context.Context, err error, action string) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return huma.Error400BadRequest(apperr.Message(err))
	case apperr.KindForbidden:
		return huma.Error403Forbidden(apperr.Message(err))
	case apperr.KindNotFound:
		return huma.Error404NotFound(apperr.Message(err))
	case apperr.KindConflict:
		return huma.Error409Conflict(apperr.Message(err))
	case apperr.KindDependency:
		s.recordError(ctx, err, action, nil)
		return huma.Error503ServiceUnavailable(dependencyMessage)
	}

	if eris.Is(err, identity.ErrInvalidCredentials) {
		return huma.Error401Unauthorized("invalid email or password")
	}

	s.recordError(ctx, err, action, nil)
	return huma.NewError(stdhttp.StatusInternalServerError, internalMessage)
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}
