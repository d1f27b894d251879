package story

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/apperr"
	"legjenda/app/internal/blob"
	"legjenda/app/internal/db"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/validation"
)

// Authorizer resolves the caller for every gated operation.
type Authorizer interface {
	Resolve(ctx context.Context) (identity.Verdict, error)
	RequireIdentity(ctx context.Context) (*identity.Identity, error)
	RequireAdmin(ctx context.Context) (*identity.Identity, error)
}

// Summarizer writes a short excerpt for a story body.
type Summarizer interface {
	Summarize(ctx context.Context, text, language string) (string, error)
}

// BlobStore keeps uploaded cover images.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (blob.StoredRef, error)
}

// TransitionObserver is told about every successful moderation transition.
type TransitionObserver interface {
	ObserveTransition(entity, action string)
}

// Service drives the story and comment lifecycles.
type Service interface {
	Submit(ctx context.Context, draft Draft) (*Detail, error)
	SaveDraft(ctx context.Context, draft Draft) (*Detail, error)
	SubmitDraft(ctx context.Context, id string) (*Detail, error)
	Approve(ctx context.Context, id string) (*Detail, error)
	Reject(ctx context.Context, id string) (*Detail, error)
	Unpublish(ctx context.Context, id string) (*Detail, error)
	Delete(ctx context.Context, id string) error
	Update(ctx context.Context, id string, patch Patch) (*Detail, error)
	SetTags(ctx context.Context, id string, tagIDs []string) (*Detail, error)

	GetPublished(ctx context.Context, id string) (*Detail, error)
	ListPublished(ctx context.Context, filter ListFilter) ([]Detail, error)
	RecordView(ctx context.Context, id string) error
	GetForAdmin(ctx context.Context, id string) (*Detail, error)
	ListForModeration(ctx context.Context, statuses []Status) ([]Detail, error)
	ListOwn(ctx context.Context) ([]Detail, error)

	ToggleLike(ctx context.Context, storyID string) (LikeState, error)
	LikeStatus(ctx context.Context, storyID string) (LikeState, error)
	UploadCover(ctx context.Context, filename string, data []byte) (string, error)

	SubmitComment(ctx context.Context, storyID, content string) (*Comment, error)
	ApproveComment(ctx context.Context, id string) (*Comment, error)
	RejectComment(ctx context.Context, id string) (*Comment, error)
	DeleteComment(ctx context.Context, id string) error
	ListApprovedComments(ctx context.Context, storyID string) ([]Comment, error)
	ListCommentsForModeration(ctx context.Context, status CommentStatus) ([]ModerationComment, error)
}

// Dependencies lists the collaborators of the story service. Summarizer, Blob and
// Observer are optional.
type Dependencies struct {
	DB         *gorm.DB
	Auth       Authorizer
	Activity   *activity.Log
	Summarizer Summarizer
	Blob       BlobStore
	Observer   TransitionObserver
	Logger     *logrus.Logger
	SentryHub  *sentry.Hub
	Now        func() time.Time
}

type service struct {
	db         *gorm.DB
	auth       Authorizer
	log        *activity.Log
	summarizer Summarizer
	blob       BlobStore
	observer   TransitionObserver
	validate   *validator.Validate
	now        func() time.Time
	logger     *logrus.Logger
	sentryHub  *sentry.Hub
}

var _ Service = (*service)(nil)

// NewService wires the story service.
func NewService(deps Dependencies) (Service, error) {
	if deps.DB == nil {
		return nil, eris.New("gorm DB is required")
	}
	if deps.Auth == nil {
		return nil, eris.New("authorizer is required")
	}
	if deps.Activity == nil {
		return nil, eris.New("activity log is required")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		db:         deps.DB,
		auth:       deps.Auth,
		log:        deps.Activity,
		summarizer: deps.Summarizer,
		blob:       deps.Blob,
		observer:   deps.Observer,
		validate:   validation.New(),
		now:        now,
		logger:     deps.Logger,
		sentryHub:  deps.SentryHub,
	}, nil
}

// loadStory reads a story inside tx, mapping a missing row to a not-found error.
func loadStory(ctx context.Context, tx *gorm.DB, id string) (*Story, error) {
	var story Story
	if err := tx.WithContext(ctx).First(&story, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("story %s not found", id)
		}
		return nil, err
	}
	return &story, nil
}

// fail logs and wraps unexpected failures. Errors that already carry a kind pass through.
func (s *service) fail(err error, fields logrus.Fields, action string) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}

	s.recordError(fields, err, action)
	return apperr.Dependency(err, action)
}

func (s *service) observe(entity, action string) {
	if s.observer != nil {
		s.observer.ObserveTransition(entity, action)
	}
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
