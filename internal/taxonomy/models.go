// Package taxonomy manages categories, tags and the story to tag association.
package taxonomy

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Category groups stories. The domain uses a small closed set but the store does not cap it.
type Category struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	NameSQ        string    `gorm:"column:name_sq;size:120;not null" json:"name_sq"`
	NameEN        string    `gorm:"column:name_en;size:120;not null" json:"name_en"`
	Slug          string    `gorm:"size:120;uniqueIndex:idx_categories_slug;not null" json:"slug"`
	DescriptionSQ *string   `gorm:"column:description_sq;type:text" json:"description_sq,omitempty"`
	DescriptionEN *string   `gorm:"column:description_en;type:text" json:"description_en,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Category) TableName() string {
	return "categories"
}

// Tag is a free-form label attached to stories.
type Tag struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:80;not null" json:"name"`
	Slug      string    `gorm:"size:80;uniqueIndex:idx_tags_slug;not null" json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

func (Tag) TableName() string {
	return "tags"
}

// StoryTag joins a story with a tag.
type StoryTag struct {
	StoryID string `gorm:"primaryKey;size:36"`
	TagID   string `gorm:"primaryKey;size:36;index"`
}

func (StoryTag) TableName() string {
	return "story_tags"
}

// Migrate applies the taxonomy schema.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "taxonomy.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying taxonomy schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Category{}, &Tag{}, &StoryTag{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("taxonomy schema migration failed")
		}
		return eris.Wrap(err, "auto migrating taxonomy schema")
	}

	return nil
}
