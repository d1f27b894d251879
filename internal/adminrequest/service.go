package adminrequest

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
	"legjenda/app/internal/emailcheck"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/validation"
)

// Authorizer gates the admin side of the workflow.
type Authorizer interface {
	RequireAdmin(ctx context.Context) (*identity.Identity, error)
}

// Service manages admin requests and the allow-list they feed.
type Service interface {
	Submit(ctx context.Context, email string) (*AdminRequest, error)
	Decide(ctx context.Context, id string, decision Decision) (*AdminRequest, error)
	List(ctx context.Context, status Status) ([]AdminRequest, error)
	ListAdmins(ctx context.Context) ([]identity.AllowlistEntry, error)
	RevokeAdmin(ctx context.Context, email string) error
}

// TransitionObserver is notified after a decision commits.
type TransitionObserver interface {
	ObserveTransition(entity, action string)
}

// Dependencies lists the collaborators of the workflow. Observer is optional.
type Dependencies struct {
	DB        *gorm.DB
	Auth      Authorizer
	Allowlist *identity.Allowlist
	Checker   emailcheck.Checker
	Activity  *activity.Log
	Observer  TransitionObserver
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
	Now       func() time.Time
}

type service struct {
	db        *gorm.DB
	auth      Authorizer
	allowlist *identity.Allowlist
	checker   emailcheck.Checker
	log       *activity.Log
	observer  TransitionObserver
	validate  *validator.Validate
	now       func() time.Time
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

var _ Service = (*service)(nil)

// NewService wires the admin request workflow.
func NewService(deps Dependencies) (Service, error) {
	switch {
	case deps.DB == nil:
		return nil, eris.New("gorm DB is required")
	case deps.Auth == nil:
		return nil, eris.New("authorizer is required")
	case deps.Allowlist == nil:
		return nil, eris.New("allow-list is required")
	case deps.Checker == nil:
		return nil, eris.New("email checker is required")
	case deps.Activity == nil:
		return nil, eris.New("activity log is required")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		db:        deps.DB,
		auth:      deps.Auth,
		allowlist: deps.Allowlist,
		checker:   deps.Checker,
		log:       deps.Activity,
		observer:  deps.Observer,
		validate:  validation.New(),
		now:       now,
		logger:    deps.Logger,
		sentryHub: deps.SentryHub,
	}, nil
}

// Submit files a pending request for email. Anyone may ask.
func (s *service) Submit(ctx context.Context, email string) (*AdminRequest, error) {
	normalized := identity.NormalizeEmail(email)
	if !validation.Email(s.validate, normalized) {
		return nil, apperr.Validation("email %q is not a valid address", email)
	}

	result, err := s.checker.Verify(ctx, normalized)
	if err != nil {
		s.recordError(logrus.Fields{"email": normalized}, err, "verifying email deliverability")
		return nil, apperr.Dependency(err, "verifying email deliverability")
	}
	if !result.Deliverable {
		return nil, apperr.Validation("email %s cannot receive mail", normalized)
	}

	request := AdminRequest{
		ID:          uuid.NewString(),
		Email:       normalized,
		Status:      StatusPending,
		RequestedAt: s.now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&AdminRequest{}).Where("email = ? AND status = ?", normalized, StatusPending).Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return apperr.Conflict("a pending request for %s already exists", normalized)
		}

		return tx.Create(&request).Error
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("a pending request for %s already exists", normalized)
		}
		return nil, s.fail(err, logrus.Fields{"email": normalized}, "creating admin request")
	}

	if s.logger != nil {
		s.logger.WithField("request_id", request.ID).Info("admin request submitted")
	}
	return &request, nil
}

// Decide approves or rejects a pending request. Approval grants the allow-list entry and
// closes the request in one transaction; if the grant fails the request stays pending.
func (s *service) Decide(ctx context.Context, id string, decision Decision) (*AdminRequest, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	var (
		to     Status
		action string
	)
	switch decision {
	case DecisionApprove:
		to, action = StatusApproved, "approve_admin_request"
	case DecisionReject:
		to, action = StatusRejected, "reject_admin_request"
	default:
		return nil, apperr.Validation("unknown decision %q", decision)
	}

	var request AdminRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&request, "id = ?", id).Error; err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound("admin request %s not found", id)
			}
			return err
		}
		if request.Status != StatusPending {
			return apperr.Conflict("admin request %s is already %s", id, request.Status)
		}

		if to == StatusApproved {
			if err := s.allowlist.WithTx(tx).Grant(ctx, request.Email, caller.Email); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		processedBy := caller.Email
		result := tx.Model(&AdminRequest{}).
			Where("id = ? AND status = ?", id, StatusPending).
			Updates(map[string]any{"status": to, "processed_at": now, "processed_by": processedBy})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("admin request %s was decided concurrently", id)
		}

		request.Status = to
		request.ProcessedAt = &now
		request.ProcessedBy = &processedBy

		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: action, EntityType: "admin_request", EntityID: id, Actor: caller.Email, Payload: request,
		})
	})
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"request_id": id, "decision": decision}, "deciding admin request")
	}

	if s.observer != nil {
		s.observer.ObserveTransition("admin_request", action)
	}
	return &request, nil
}

// List returns requests newest first, optionally narrowed to one status.
func (s *service) List(ctx context.Context, status Status) ([]AdminRequest, error) {
	if _, err := s.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&AdminRequest{})
	if status != "" {
		if !status.Valid() {
			return nil, apperr.Validation("unknown request status %q", status)
		}
		query = query.Where("status = ?", status)
	}

	requests := []AdminRequest{}
	if err := query.Order("requested_at DESC").Order("id ASC").Find(&requests).Error; err != nil {
		return nil, s.fail(err, nil, "listing admin requests")
	}

	return requests, nil
}

// ListAdmins returns the allow-list.
func (s *service) ListAdmins(ctx context.Context) ([]identity.AllowlistEntry, error) {
	if _, err := s.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	return s.allowlist.List(ctx)
}

// RevokeAdmin removes email from the allow-list. Admins cannot revoke themselves.
func (s *service) RevokeAdmin(ctx context.Context, email string) error {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return err
	}

	normalized := identity.NormalizeEmail(email)
	if normalized == identity.NormalizeEmail(caller.Email) {
		return apperr.Conflict("admins cannot revoke their own privileges")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := s.allowlist.WithTx(tx).Revoke(ctx, normalized)
		if err != nil {
			return err
		}
		if !removed {
			return apperr.NotFound("%s is not an admin", normalized)
		}

		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "revoke_admin", EntityType: "admin", EntityID: normalized, Actor: caller.Email,
			Payload: map[string]string{"email": normalized},
		})
	})
	if err != nil {
		return s.fail(err, logrus.Fields{"email": normalized}, "revoking admin")
	}

	if s.observer != nil {
		s.observer.ObserveTransition("admin", "revoke_admin")
	}
	return nil
}

func (s *service) fail(err error, fields logrus.Fields, action string) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}

	s.recordError(fields, err, action)
	return apperr.Dependency(err, action)
}

func (s *service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil {
		s.sentryHub.CaptureException(err)
	}
}
