// Package analytics aggregates interaction counters and records page visits.
package analytics

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

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/story"
	"legjenda/app/internal/taxonomy"
	"legjenda/app/internal/validation"
)

const (
	defaultTopStories = 20
	maxTopStories     = 100
)

// Visit is one recorded page view of the public site.
type Visit struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	IPAddress *string   `gorm:"size:45;index" json:"ip_address,omitempty"`
	UserAgent string    `gorm:"size:512" json:"user_agent"`
	PageURL   string    `gorm:"size:2048;not null" json:"page_url"`
}

func (Visit) TableName() string {
	return "website_visits"
}

// VisitInput describes a page view reported by the site.
type VisitInput struct {
	IP        string `json:"-" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
	PageURL   string `json:"page_url" validate:"required,max=2048"`
}

// Summary bundles the dashboard counters.
type Summary struct {
	TotalViews            int64 `json:"total_views"`
	TotalLikes            int64 `json:"total_likes"`
	TotalApprovedComments int64 `json:"total_approved_comments"`
	TotalPublishedStories int64 `json:"total_published_stories"`
	UniqueVisitors        int64 `json:"unique_visitors"`
}

// StoryViews is one row of the most viewed stories ranking.
type StoryViews struct {
	ID        string       `json:"id"`
	TitleSQ   string       `json:"title_sq"`
	TitleEN   string       `json:"title_en"`
	Status    story.Status `json:"status"`
	Views     int64        `json:"views"`
	LikeCount int64        `json:"like_count"`
}

// CategoryCount is the number of published stories in a category.
type CategoryCount struct {
	CategoryID string `json:"category_id"`
	Slug       string `json:"slug"`
	NameSQ     string `json:"name_sq"`
	NameEN     string `json:"name_en"`
	Published  int64  `json:"published"`
}

// Authorizer gates the admin dashboard counters.
type Authorizer interface {
	RequireAdmin(ctx context.Context) (*identity.Identity, error)
}

// Aggregator computes counters straight from the store on every call. Totals cover every
// story status unless the name says otherwise.
type Aggregator struct {
	db        *gorm.DB
	auth      Authorizer
	validate  *validator.Validate
	now       func() time.Time
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

// NewAggregator wires the aggregator.
func NewAggregator(database *gorm.DB, auth Authorizer, logger *logrus.Logger, hub *sentry.Hub) (*Aggregator, error) {
	if database == nil {
		return nil, eris.New("gorm DB is required")
	}
	if auth == nil {
		return nil, eris.New("authorizer is required")
	}

	return &Aggregator{
		db:        database,
		auth:      auth,
		validate:  validation.New(),
		now:       time.Now,
		logger:    logger,
		sentryHub: hub,
	}, nil
}

// TotalViews sums the view counters of all stories.
func (a *Aggregator) TotalViews(ctx context.Context) (int64, error) {
	var total int64
	err := a.db.WithContext(ctx).Model(&story.Story{}).Select("COALESCE(SUM(views), 0)").Scan(&total).Error
	return total, a.fail(err, "summing story views")
}

// TotalLikes counts like rows.
func (a *Aggregator) TotalLikes(ctx context.Context) (int64, error) {
	var total int64
	err := a.db.WithContext(ctx).Model(&story.Like{}).Count(&total).Error
	return total, a.fail(err, "counting likes")
}

func (a *Aggregator) TotalApprovedComments(ctx context.Context) (int64, error) {
	var total int64
	err := a.db.WithContext(ctx).Model(&story.Comment{}).Where("status = ?", story.CommentApproved).Count(&total).Error
	return total, a.fail(err, "counting approved comments")
}

func (a *Aggregator) TotalPublishedStories(ctx context.Context) (int64, error) {
	var total int64
	err := a.db.WithContext(ctx).Model(&story.Story{}).Where("status = ?", story.StatusPublished).Count(&total).Error
	return total, a.fail(err, "counting published stories")
}

// UniqueVisitors counts distinct known IP addresses.
func (a *Aggregator) UniqueVisitors(ctx context.Context) (int64, error) {
	var total int64
	err := a.db.WithContext(ctx).
		Model(&Visit{}).
		Where("ip_address IS NOT NULL AND ip_address <> ''").
		Distinct("ip_address").
		Count(&total).Error
	return total, a.fail(err, "counting unique visitors")
}

// TopStoriesByViews ranks stories of any status by views. limit defaults to 20 and is
// capped at 100.
func (a *Aggregator) TopStoriesByViews(ctx context.Context, limit int) ([]StoryViews, error) {
	if _, err := a.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultTopStories
	}
	if limit > maxTopStories {
		limit = maxTopStories
	}

	rows := []StoryViews{}
	err := a.db.WithContext(ctx).
		Model(&story.Story{}).
		Select("id, title_sq, title_en, status, views, like_count").
		Order("views DESC").
		Order("id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, a.fail(err, "ranking stories by views")
	}

	return rows, nil
}

// Summary returns the five dashboard counters.
func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	if _, err := a.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	var (
		summary Summary
		err     error
	)
	if summary.TotalViews, err = a.TotalViews(ctx); err != nil {
		return nil, err
	}
	if summary.TotalLikes, err = a.TotalLikes(ctx); err != nil {
		return nil, err
	}
	if summary.TotalApprovedComments, err = a.TotalApprovedComments(ctx); err != nil {
		return nil, err
	}
	if summary.TotalPublishedStories, err = a.TotalPublishedStories(ctx); err != nil {
		return nil, err
	}
	if summary.UniqueVisitors, err = a.UniqueVisitors(ctx); err != nil {
		return nil, err
	}

	return &summary, nil
}

// PublishedCountsByCategory returns every category with its number of published stories,
// including empty categories.
func (a *Aggregator) PublishedCountsByCategory(ctx context.Context) ([]CategoryCount, error) {
	rows := []CategoryCount{}
	err := a.db.WithContext(ctx).
		Model(&taxonomy.Category{}).
		Select("categories.id AS category_id, categories.slug, categories.name_sq, categories.name_en, COUNT(stories.id) AS published").
		Joins("LEFT JOIN stories ON stories.category_id = categories.id AND stories.status = ?", story.StatusPublished).
		Group("categories.id, categories.slug, categories.name_sq, categories.name_en").
		Order("categories.slug ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, a.fail(err, "counting stories per category")
	}

	return rows, nil
}

// RecordVisit appends a page view. An unknown client IP is stored as null.
func (a *Aggregator) RecordVisit(ctx context.Context, input VisitInput) (*Visit, error) {
	input.IP = strings.TrimSpace(input.IP)
	input.UserAgent = strings.TrimSpace(input.UserAgent)
	input.PageURL = strings.TrimSpace(input.PageURL)
	if err := validation.Struct(a.validate, input); err != nil {
		return nil, err
	}

	visit := Visit{
		ID:        uuid.NewString(),
		CreatedAt: a.now().UTC(),
		UserAgent: input.UserAgent,
		PageURL:   input.PageURL,
	}
	if input.IP != "" {
		visit.IPAddress = &input.IP
	}

	if err := a.db.WithContext(ctx).Create(&visit).Error; err != nil {
		return nil, a.fail(err, "recording visit")
	}

	return &visit, nil
}

// Migrate applies the analytics schema.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Visit{}); err != nil {
		if logger != nil {
			logger.WithField("component", "analytics.migrate").WithField("error", err.Error()).Error("analytics schema migration failed")
		}
		return eris.Wrap(err, "auto migrating analytics schema")
	}

	return nil
}

func (a *Aggregator) fail(err error, message string) error {
	if err == nil {
		return nil
	}

	if a.logger != nil {
		a.logger.WithField("error", err.Error()).Error(message)
	}
	if a.sentryHub != nil {
		a.sentryHub.CaptureException(err)
	}
	return apperr.Dependency(err, message)
}
