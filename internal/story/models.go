// Package story implements the content state machine for stories and comments.
package story

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a story.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusRejected  Status = "rejected"
)

// Valid reports whether s is a known story status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPublished, StatusRejected:
		return true
	}
	return false
}

// Story is a bilingual piece of content. A published story always has a category and a
// publication time.
type Story struct {
	ID              string                      `gorm:"primaryKey;size:36" json:"id"`
	TitleSQ         string                      `gorm:"column:title_sq;size:255" json:"title_sq"`
	TitleEN         string                      `gorm:"column:title_en;size:255" json:"title_en"`
	ContentSQ       string                      `gorm:"column:content_sq;type:text" json:"content_sq"`
	ContentEN       string                      `gorm:"column:content_en;type:text" json:"content_en"`
	ExcerptSQ       *string                     `gorm:"column:excerpt_sq;type:text" json:"excerpt_sq,omitempty"`
	ExcerptEN       *string                     `gorm:"column:excerpt_en;type:text" json:"excerpt_en,omitempty"`
	CategoryID      *string                     `gorm:"size:36;index" json:"category_id,omitempty"`
	CoverImageURL   *string                     `gorm:"type:text" json:"cover_image_url,omitempty"`
	SEOTitle        *string                     `gorm:"column:seo_title;size:255" json:"seo_title,omitempty"`
	SEODescription  *string                     `gorm:"column:seo_description;type:text" json:"seo_description,omitempty"`
	SEOKeywords     datatypes.JSONSlice[string] `gorm:"column:seo_keywords" json:"seo_keywords,omitempty"`
	Status          Status                      `gorm:"size:16;index;not null" json:"status"`
	Featured        bool                        `gorm:"not null;default:false" json:"featured"`
	ReadTimeMinutes int                         `gorm:"not null;default:1" json:"read_time_minutes"`
	Views           int64                       `gorm:"not null;default:0" json:"views"`
	LikeCount       int64                       `gorm:"not null;default:0" json:"like_count"`
	AuthorID        *string                     `gorm:"size:36;index" json:"author_id,omitempty"`
	CreatedAt       time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
	PublishedAt     *time.Time                  `gorm:"index" json:"published_at,omitempty"`
}

func (Story) TableName() string {
	return "stories"
}

// CommentStatus is the moderation state of a comment.
type CommentStatus string

const (
	CommentPending  CommentStatus = "pending"
	CommentApproved CommentStatus = "approved"
	CommentRejected CommentStatus = "rejected"
)

// Valid reports whether s is a known comment status.
func (s CommentStatus) Valid() bool {
	switch s {
	case CommentPending, CommentApproved, CommentRejected:
		return true
	}
	return false
}

// Comment belongs to exactly one story for its whole life.
type Comment struct {
	ID        string        `gorm:"primaryKey;size:36" json:"id"`
	StoryID   string        `gorm:"size:36;index;not null" json:"story_id"`
	UserID    string        `gorm:"size:36;not null" json:"user_id"`
	Content   string        `gorm:"type:text;not null" json:"content"`
	Status    CommentStatus `gorm:"size:16;index;not null" json:"status"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
}

func (Comment) TableName() string {
	return "comments"
}

// Like records that a user liked a story. A user likes a story at most once.
type Like struct {
	ID        string    `gorm:"primaryKey;size:36"`
	StoryID   string    `gorm:"size:36;not null;uniqueIndex:idx_story_likes_story_user"`
	UserID    string    `gorm:"size:36;not null;uniqueIndex:idx_story_likes_story_user"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Like) TableName() string {
	return "story_likes"
}

// Migrate applies the story schema.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "story.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying story schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Story{}, &Comment{}, &Like{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("story schema migration failed")
		}
		return eris.Wrap(err, "auto migrating story schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("story schema migration complete")
	}

	return nil
}
