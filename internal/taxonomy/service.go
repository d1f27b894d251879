package taxonomy

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/validation"
)

// Authorizer gates admin-only taxonomy changes.
type Authorizer interface {
	RequireAdmin(ctx context.Context) (*identity.Identity, error)
}

// Service exposes category and tag operations.
type Service interface {
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*Category, error)
	CreateCategory(ctx context.Context, input CategoryInput) (*Category, error)
	UpdateCategory(ctx context.Context, id string, input CategoryInput) (*Category, error)
	DeleteCategory(ctx context.Context, id string) error
	ListTags(ctx context.Context) ([]Tag, error)
	CreateTag(ctx context.Context, input TagInput) (*Tag, error)
	DeleteTag(ctx context.Context, id string) error
	SeedCategories(ctx context.Context) error
}

// CategoryInput carries the editable category fields. An empty slug is derived from NameSQ.
type CategoryInput struct {
	NameSQ        string  `json:"name_sq" validate:"required,max=120"`
	NameEN        string  `json:"name_en" validate:"required,max=120"`
	Slug          string  `json:"slug" validate:"omitempty,max=120,slug"`
	DescriptionSQ *string `json:"description_sq"`
	DescriptionEN *string `json:"description_en"`
}

// TagInput carries the tag fields. An empty slug is derived from Name.
type TagInput struct {
	Name string `json:"name" validate:"required,max=80"`
	Slug string `json:"slug" validate:"omitempty,max=80,slug"`
}

type service struct {
	db        *gorm.DB
	auth      Authorizer
	log       *activity.Log
	validate  *validator.Validate
	now       func() time.Time
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

var _ Service = (*service)(nil)

const storiesTable = "stories"

// NewService wires the taxonomy manager.
func NewService(database *gorm.DB, auth Authorizer, log *activity.Log, logger *logrus.Logger, hub *sentry.Hub) (Service, error) {
	if database == nil {
		return nil, eris.New("gorm DB is required")
	}
	if auth == nil {
		return nil, eris.New("authorizer is required")
	}
	if log == nil {
		return nil, eris.New("activity log is required")
	}

	return &service{
		db:        database,
		auth:      auth,
		log:       log,
		validate:  validation.New(),
		now:       time.Now,
		logger:    logger,
		sentryHub: hub,
	}, nil
}

func (s *service) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := s.db.WithContext(ctx).Order("name_sq ASC").Find(&categories).Error; err != nil {
		s.recordError(nil, err, "listing categories")
		return nil, apperr.Dependency(err, "listing categories")
	}

	return categories, nil
}

func (s *service) GetCategoryBySlug(ctx context.Context, slug string) (*Category, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, apperr.Validation("slug is required")
	}

	var category Category
	if err := s.db.WithContext(ctx).First(&category, "slug = ?", trimmed).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("category %s not found", trimmed)
		}
		s.recordError(logrus.Fields{"slug": trimmed}, err, "fetching category by slug")
		return nil, apperr.Dependency(err, "fetching category")
	}

	return &category, nil
}

func (s *service) CreateCategory(ctx context.Context, input CategoryInput) (*Category, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	input = normaliseCategoryInput(input)
	if err := validation.Struct(s.validate, input); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	category := Category{
		ID:            uuid.NewString(),
		NameSQ:        input.NameSQ,
		NameEN:        input.NameEN,
		Slug:          input.Slug,
		DescriptionSQ: input.DescriptionSQ,
		DescriptionEN: input.DescriptionEN,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&category).Error; err != nil {
			return err
		}
		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "create_category", EntityType: "category", EntityID: category.ID, Actor: caller.Email, Payload: category,
		})
	})
	if err != nil {
		return nil, s.writeError(err, logrus.Fields{"slug": category.Slug}, "creating category", "category slug %s already exists", category.Slug)
	}

	return &category, nil
}

func (s *service) UpdateCategory(ctx context.Context, id string, input CategoryInput) (*Category, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	input = normaliseCategoryInput(input)
	if err := validation.Struct(s.validate, input); err != nil {
		return nil, err
	}

	var category Category
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&category, "id = ?", id).Error; err != nil {
			return err
		}

		category.NameSQ = input.NameSQ
		category.NameEN = input.NameEN
		category.Slug = input.Slug
		category.DescriptionSQ = input.DescriptionSQ
		category.DescriptionEN = input.DescriptionEN
		category.UpdatedAt = s.now().UTC()

		if err := tx.Save(&category).Error; err != nil {
			return err
		}
		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "update_category", EntityType: "category", EntityID: category.ID, Actor: caller.Email, Payload: category,
		})
	})
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("category %s not found", id)
		}
		return nil, s.writeError(err, logrus.Fields{"category_id": id}, "updating category", "category slug %s already exists", input.Slug)
	}

	return &category, nil
}

func (s *service) DeleteCategory(ctx context.Context, id string) error {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var category Category
		if err := tx.First(&category, "id = ?", id).Error; err != nil {
			return err
		}

		var referencing int64
		if err := tx.Table(storiesTable).Where("category_id = ?", id).Count(&referencing).Error; err != nil {
			return err
		}
		if referencing > 0 {
			return apperr.Conflict("category %s is used by %d stories", category.Slug, referencing)
		}

		if err := tx.Delete(&Category{}, "id = ?", id).Error; err != nil {
			return err
		}
		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "delete_category", EntityType: "category", EntityID: id, Actor: caller.Email, Payload: category,
		})
	})
	if err != nil {
		if db.IsNotFound(err) {
			return apperr.NotFound("category %s not found", id)
		}
		return s.writeError(err, logrus.Fields{"category_id": id}, "deleting category", "")
	}

	return nil
}

func (s *service) ListTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&tags).Error; err != nil {
		s.recordError(nil, err, "listing tags")
		return nil, apperr.Dependency(err, "listing tags")
	}

	return tags, nil
}

func (s *service) CreateTag(ctx context.Context, input TagInput) (*Tag, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Slug = strings.TrimSpace(input.Slug)
	if input.Slug == "" {
		input.Slug = validation.Slugify(input.Name)
	}
	if err := validation.Struct(s.validate, input); err != nil {
		return nil, err
	}

	tag := Tag{ID: uuid.NewString(), Name: input.Name, Slug: input.Slug, CreatedAt: s.now().UTC()}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tag).Error; err != nil {
			return err
		}
		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "create_tag", EntityType: "tag", EntityID: tag.ID, Actor: caller.Email, Payload: tag,
		})
	})
	if err != nil {
		return nil, s.writeError(err, logrus.Fields{"slug": tag.Slug}, "creating tag", "tag slug %s already exists", tag.Slug)
	}

	return &tag, nil
}

func (s *service) DeleteTag(ctx context.Context, id string) error {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tag Tag
		if err := tx.First(&tag, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Where("tag_id = ?", id).Delete(&StoryTag{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Tag{}, "id = ?", id).Error; err != nil {
			return err
		}
		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "delete_tag", EntityType: "tag", EntityID: id, Actor: caller.Email, Payload: tag,
		})
	})
	if err != nil {
		if db.IsNotFound(err) {
			return apperr.NotFound("tag %s not found", id)
		}
		return s.writeError(err, logrus.Fields{"tag_id": id}, "deleting tag", "")
	}

	return nil
}

func (s *service) SeedCategories(ctx context.Context) error {
	now := s.now().UTC()

	for _, seed := range canonicalCategories {
		category := seed
		category.ID = uuid.NewString()
		category.CreatedAt = now
		category.UpdatedAt = now

		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slug"}}, DoNothing: true}).
			Create(&category).Error
		if err != nil {
			s.recordError(logrus.Fields{"slug": category.Slug}, err, "seeding category")
			return eris.Wrapf(err, "seeding category %s", category.Slug)
		}
	}

	return nil
}

// writeError maps a failed write to the caller facing kind. Errors that already carry a
// kind are returned unchanged.
func (s *service) writeError(err error, fields logrus.Fields, action, conflictFormat string, args ...any) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	if conflictFormat != "" && db.IsUniqueViolation(err) {
		return apperr.Conflict(conflictFormat, args...)
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

func normaliseCategoryInput(input CategoryInput) CategoryInput {
	input.NameSQ = strings.TrimSpace(input.NameSQ)
	input.NameEN = strings.TrimSpace(input.NameEN)
	input.Slug = strings.TrimSpace(input.Slug)
	if input.Slug == "" {
		input.Slug = validation.Slugify(input.NameSQ)
	}
	input.DescriptionSQ = trimOptional(input.DescriptionSQ)
	input.DescriptionEN = trimOptional(input.DescriptionEN)
	return input
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
