package taxonomy

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"legjenda/app/internal/apperr"
)

// CategoryExists reports whether id names a stored category.
func CategoryExists(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	var count int64
	if err := tx.WithContext(ctx).Model(&Category{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, eris.Wrapf(err, "checking category %s", id)
	}

	return count > 0, nil
}

// ReplaceStoryTags deletes every association of storyID and inserts tagIDs. Two writers
// replacing the same story's tags concurrently may lose one side's selection.
func ReplaceStoryTags(ctx context.Context, tx *gorm.DB, storyID string, tagIDs []string) ([]Tag, error) {
	unique := dedupe(tagIDs)

	var tags []Tag
	if len(unique) > 0 {
		if err := tx.WithContext(ctx).Where("id IN ?", unique).Order("name ASC").Find(&tags).Error; err != nil {
			return nil, eris.Wrap(err, "loading tags")
		}
		if len(tags) != len(unique) {
			return nil, apperr.Validation("one or more tags do not exist")
		}
	}

	if err := DeleteStoryTags(ctx, tx, storyID); err != nil {
		return nil, err
	}

	if len(unique) == 0 {
		return []Tag{}, nil
	}

	rows := make([]StoryTag, 0, len(unique))
	for _, tagID := range unique {
		rows = append(rows, StoryTag{StoryID: storyID, TagID: tagID})
	}

	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, eris.Wrapf(err, "inserting tags for story %s", storyID)
	}

	return tags, nil
}

// DeleteStoryTags removes every association of storyID.
func DeleteStoryTags(ctx context.Context, tx *gorm.DB, storyID string) error {
	if err := tx.WithContext(ctx).Where("story_id = ?", storyID).Delete(&StoryTag{}).Error; err != nil {
		return eris.Wrapf(err, "deleting tags for story %s", storyID)
	}
	return nil
}

// TagsForStories returns the tags of each story keyed by story id.
func TagsForStories(ctx context.Context, db *gorm.DB, storyIDs []string) (map[string][]Tag, error) {
	result := make(map[string][]Tag, len(storyIDs))
	if len(storyIDs) == 0 {
		return result, nil
	}

	type row struct {
		StoryID   string
		ID        string
		Name      string
		Slug      string
		CreatedAt time.Time
	}

	var rows []row
	err := db.WithContext(ctx).
		Table("story_tags").
		Select("story_tags.story_id AS story_id, tags.id, tags.name, tags.slug, tags.created_at").
		Joins("JOIN tags ON tags.id = story_tags.tag_id").
		Where("story_tags.story_id IN ?", storyIDs).
		Order("tags.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, eris.Wrap(err, "loading story tags")
	}

	for _, r := range rows {
		result[r.StoryID] = append(result[r.StoryID], Tag{ID: r.ID, Name: r.Name, Slug: r.Slug, CreatedAt: r.CreatedAt})
	}

	return result, nil
}

// StoryIDsWithTag returns a subquery selecting the stories tagged with slug.
func StoryIDsWithTag(db *gorm.DB, slug string) *gorm.DB {
	return db.Table("story_tags").
		Select("story_tags.story_id").
		Joins("JOIN tags ON tags.id = story_tags.tag_id").
		Where("tags.slug = ?", slug)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
