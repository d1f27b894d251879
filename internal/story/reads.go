package story

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
	"legjenda/app/internal/taxonomy"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// GetPublished returns a story only when it is publicly visible.
func (s *service) GetPublished(ctx context.Context, id string) (*Detail, error) {
	var story Story
	err := s.db.WithContext(ctx).First(&story, "id = ? AND status = ?", id, StatusPublished).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("story %s not found", id)
		}
		return nil, s.fail(err, logrus.Fields{"story_id": id}, "loading published story")
	}

	return s.detail(ctx, &story)
}

// ListPublished returns published stories, newest publication first.
func (s *service) ListPublished(ctx context.Context, filter ListFilter) ([]Detail, error) {
	query := s.db.WithContext(ctx).Model(&Story{}).Where("status = ?", StatusPublished)

	if slug := strings.TrimSpace(filter.CategorySlug); slug != "" {
		query = query.Where("category_id IN (?)", s.db.Model(&taxonomy.Category{}).Select("id").Where("slug = ?", slug))
	}
	if slug := strings.TrimSpace(filter.TagSlug); slug != "" {
		query = query.Where("id IN (?)", taxonomy.StoryIDsWithTag(s.db, slug))
	}
	if filter.Featured != nil {
		query = query.Where("featured = ?", *filter.Featured)
	}
	if term := strings.ToLower(strings.TrimSpace(filter.Query)); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		query = query.Where("(LOWER(title_sq) LIKE ? ESCAPE '\\' OR LOWER(title_en) LIKE ? ESCAPE '\\')", pattern, pattern)
	}

	limit, offset := clampPage(filter.Limit, filter.Offset)

	var stories []Story
	if err := query.Order("published_at DESC").Order("id ASC").Limit(limit).Offset(offset).Find(&stories).Error; err != nil {
		return nil, s.fail(err, nil, "listing published stories")
	}

	return s.details(ctx, stories)
}

// RecordView increments the view counter of a published story.
func (s *service) RecordView(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&Story{}).
		Where("id = ? AND status = ?", id, StatusPublished).
		UpdateColumn("views", gorm.Expr("views + ?", 1))
	if result.Error != nil {
		return s.fail(result.Error, logrus.Fields{"story_id": id}, "recording story view")
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("story %s not found", id)
	}

	return nil
}

// GetForAdmin returns a story in any status.
func (s *service) GetForAdmin(ctx context.Context, id string) (*Detail, error) {
	if _, err := s.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	story, err := loadStory(ctx, s.db, id)
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": id}, "loading story")
	}

	return s.detail(ctx, story)
}

// ListForModeration returns stories in the given statuses, newest first. Without statuses
// it returns the drafts and pending stories.
func (s *service) ListForModeration(ctx context.Context, statuses []Status) ([]Detail, error) {
	if _, err := s.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	if len(statuses) == 0 {
		statuses = []Status{StatusDraft, StatusPending}
	}
	for _, status := range statuses {
		if !status.Valid() {
			return nil, apperr.Validation("unknown story status %q", status)
		}
	}

	var stories []Story
	if err := s.db.WithContext(ctx).Where("status IN ?", statuses).Order("created_at DESC").Find(&stories).Error; err != nil {
		return nil, s.fail(err, nil, "listing stories for moderation")
	}

	return s.details(ctx, stories)
}

// ListOwn returns every story authored by the caller, newest first.
func (s *service) ListOwn(ctx context.Context) ([]Detail, error) {
	caller, err := s.auth.RequireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	var stories []Story
	if err := s.db.WithContext(ctx).Where("author_id = ?", caller.ID).Order("created_at DESC").Find(&stories).Error; err != nil {
		return nil, s.fail(err, logrus.Fields{"user_id": caller.ID}, "listing own stories")
	}

	return s.details(ctx, stories)
}

func (s *service) detail(ctx context.Context, story *Story) (*Detail, error) {
	details, err := s.details(ctx, []Story{*story})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

// details attaches categories, tags and approved comment counts with one query each.
func (s *service) details(ctx context.Context, stories []Story) ([]Detail, error) {
	out := make([]Detail, 0, len(stories))
	if len(stories) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(stories))
	categoryIDs := make([]string, 0, len(stories))
	for _, story := range stories {
		ids = append(ids, story.ID)
		if story.CategoryID != nil {
			categoryIDs = append(categoryIDs, *story.CategoryID)
		}
	}

	categories := map[string]taxonomy.Category{}
	if len(categoryIDs) > 0 {
		var rows []taxonomy.Category
		if err := s.db.WithContext(ctx).Where("id IN ?", categoryIDs).Find(&rows).Error; err != nil {
			return nil, s.fail(err, nil, "loading story categories")
		}
		for _, row := range rows {
			categories[row.ID] = row
		}
	}

	tags, err := taxonomy.TagsForStories(ctx, s.db, ids)
	if err != nil {
		return nil, s.fail(err, nil, "loading story tags")
	}

	type countRow struct {
		StoryID string
		Total   int64
	}
	var counts []countRow
	err = s.db.WithContext(ctx).
		Model(&Comment{}).
		Select("story_id, COUNT(*) AS total").
		Where("story_id IN ? AND status = ?", ids, CommentApproved).
		Group("story_id").
		Scan(&counts).Error
	if err != nil {
		return nil, s.fail(err, nil, "counting approved comments")
	}
	commentTotals := make(map[string]int64, len(counts))
	for _, row := range counts {
		commentTotals[row.StoryID] = row.Total
	}

	for _, story := range stories {
		detail := Detail{Story: story, Tags: tags[story.ID], ApprovedComments: commentTotals[story.ID]}
		if detail.Tags == nil {
			detail.Tags = []taxonomy.Tag{}
		}
		if story.CategoryID != nil {
			if category, ok := categories[*story.CategoryID]; ok {
				detail.Category = &category
			}
		}
		out = append(out, detail)
	}

	return out, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}
