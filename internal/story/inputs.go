package story

import (
	"strings"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/taxonomy"
)

// Draft is the payload of a new story.
type Draft struct {
	TitleSQ        string   `json:"title_sq" validate:"max=255"`
	TitleEN        string   `json:"title_en" validate:"max=255"`
	ContentSQ      string   `json:"content_sq"`
	ContentEN      string   `json:"content_en"`
	ExcerptSQ      *string  `json:"excerpt_sq"`
	ExcerptEN      *string  `json:"excerpt_en"`
	CategoryID     *string  `json:"category_id"`
	CoverImageURL  *string  `json:"cover_image_url" validate:"omitempty,url"`
	SEOTitle       *string  `json:"seo_title" validate:"omitempty,max=255"`
	SEODescription *string  `json:"seo_description" validate:"omitempty,max=500"`
	SEOKeywords    []string `json:"seo_keywords" validate:"max=20,dive,max=64"`
	Featured       bool     `json:"featured"`
}

// Patch changes selected fields of an existing story. Nil fields are left as they are; an
// empty string clears an optional field.
type Patch struct {
	TitleSQ        *string   `json:"title_sq" validate:"omitempty,max=255"`
	TitleEN        *string   `json:"title_en" validate:"omitempty,max=255"`
	ContentSQ      *string   `json:"content_sq"`
	ContentEN      *string   `json:"content_en"`
	ExcerptSQ      *string   `json:"excerpt_sq"`
	ExcerptEN      *string   `json:"excerpt_en"`
	CategoryID     *string   `json:"category_id"`
	CoverImageURL  *string   `json:"cover_image_url" validate:"omitempty,url"`
	SEOTitle       *string   `json:"seo_title" validate:"omitempty,max=255"`
	SEODescription *string   `json:"seo_description" validate:"omitempty,max=500"`
	SEOKeywords    *[]string `json:"seo_keywords"`
	Featured       *bool     `json:"featured"`
}

// Detail is a story with its category, tags and public comment count.
type Detail struct {
	Story
	Category         *taxonomy.Category `json:"category,omitempty"`
	Tags             []taxonomy.Tag     `json:"tags"`
	ApprovedComments int64              `json:"approved_comments"`
}

// ListFilter narrows the public story listing.
type ListFilter struct {
	CategorySlug string
	TagSlug      string
	Featured     *bool
	Query        string
	Limit        int
	Offset       int
}

// LikeState reports whether the caller likes a story and the story's like count.
type LikeState struct {
	Liked bool  `json:"liked"`
	Count int64 `json:"count"`
}

// ModerationComment is a comment with the title of its story for the moderation queue.
type ModerationComment struct {
	Comment
	StoryTitleSQ string `gorm:"column:story_title_sq" json:"story_title_sq"`
	StoryTitleEN string `gorm:"column:story_title_en" json:"story_title_en"`
}

func (d Draft) normalised() Draft {
	d.TitleSQ = strings.TrimSpace(d.TitleSQ)
	d.TitleEN = strings.TrimSpace(d.TitleEN)
	d.ContentSQ = strings.TrimSpace(d.ContentSQ)
	d.ContentEN = strings.TrimSpace(d.ContentEN)
	d.ExcerptSQ = optional(d.ExcerptSQ)
	d.ExcerptEN = optional(d.ExcerptEN)
	d.CategoryID = optional(d.CategoryID)
	d.CoverImageURL = optional(d.CoverImageURL)
	d.SEOTitle = optional(d.SEOTitle)
	d.SEODescription = optional(d.SEODescription)
	d.SEOKeywords = keywords(d.SEOKeywords)
	return d
}

// checkPublishable enforces the fields every pending or published story needs. The
// category's existence is checked separately inside the transaction.
func checkPublishable(story *Story) error {
	switch {
	case story.TitleSQ == "":
		return apperr.Validation("title_sq is required")
	case story.TitleEN == "":
		return apperr.Validation("title_en is required")
	case PlainText(story.ContentSQ) == "":
		return apperr.Validation("content_sq is required")
	case PlainText(story.ContentEN) == "":
		return apperr.Validation("content_en is required")
	case story.CategoryID == nil || *story.CategoryID == "":
		return apperr.Validation("category_id is required")
	}
	return nil
}

func optional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func keywords(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
