package story

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/apperr"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/taxonomy"
	"legjenda/app/internal/validation"
)

// transition describes one edge of the story lifecycle.
type transition struct {
	action string
	to     Status
	from   []Status
	// idempotent transitions answer the current state unchanged when the story is already
	// in the target status.
	idempotent bool
	check      func(ctx context.Context, tx *gorm.DB, story *Story) error
	authorize  func(story *Story) error
}

// Submit creates a story awaiting moderation. Admins skip the queue and publish directly.
func (s *service) Submit(ctx context.Context, draft Draft) (*Detail, error) {
	verdict, err := s.auth.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if verdict.Identity == nil {
		return nil, apperr.Forbidden("sign in required")
	}

	story, err := s.newStory(draft, verdict)
	if err != nil {
		return nil, err
	}
	if err := checkPublishable(story); err != nil {
		return nil, err
	}

	story.Status = StatusPending
	if verdict.IsAdmin {
		now := story.CreatedAt
		story.Status = StatusPublished
		story.PublishedAt = &now
	}

	return s.create(ctx, story, verdict.Identity.Email, "submit_story")
}

// SaveDraft stores an incomplete story owned by the caller. One title is enough.
func (s *service) SaveDraft(ctx context.Context, draft Draft) (*Detail, error) {
	verdict, err := s.auth.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if verdict.Identity == nil {
		return nil, apperr.Forbidden("sign in required")
	}

	story, err := s.newStory(draft, verdict)
	if err != nil {
		return nil, err
	}
	if story.TitleSQ == "" && story.TitleEN == "" {
		return nil, apperr.Validation("a title is required")
	}

	story.Status = StatusDraft
	return s.create(ctx, story, verdict.Identity.Email, "create_story")
}

// SubmitDraft moves a complete draft into the moderation queue.
func (s *service) SubmitDraft(ctx context.Context, id string) (*Detail, error) {
	verdict, err := s.auth.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if verdict.Identity == nil {
		return nil, apperr.Forbidden("sign in required")
	}

	return s.apply(ctx, verdict.Identity.Email, id, transition{
		action: "submit_story",
		to:     StatusPending,
		from:   []Status{StatusDraft},
		check:  publishable,
		authorize: func(story *Story) error {
			if verdict.IsAdmin || isAuthor(story, verdict.Identity) {
				return nil
			}
			return apperr.Forbidden("only the author may submit this draft")
		},
	})
}

// Approve publishes a story. Approving a published story changes nothing.
func (s *service) Approve(ctx context.Context, id string) (*Detail, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	return s.apply(ctx, caller.Email, id, transition{
		action:     "approve_story",
		to:         StatusPublished,
		from:       []Status{StatusDraft, StatusPending, StatusRejected},
		idempotent: true,
		check:      publishable,
	})
}

// Reject hides a story. The original publication time is kept.
func (s *service) Reject(ctx context.Context, id string) (*Detail, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	return s.apply(ctx, caller.Email, id, transition{
		action:     "reject_story",
		to:         StatusRejected,
		from:       []Status{StatusDraft, StatusPending, StatusPublished},
		idempotent: true,
	})
}

// Unpublish sends a published story back to the moderation queue.
func (s *service) Unpublish(ctx context.Context, id string) (*Detail, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	return s.apply(ctx, caller.Email, id, transition{
		action: "unpublish_story",
		to:     StatusPending,
		from:   []Status{StatusPublished},
	})
}

// Delete removes a story with its likes, comments and tag associations.
func (s *service) Delete(ctx context.Context, id string) error {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		story, err := loadStory(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := tx.Where("story_id = ?", id).Delete(&Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("story_id = ?", id).Delete(&Comment{}).Error; err != nil {
			return err
		}
		if err := taxonomy.DeleteStoryTags(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.Delete(&Story{}, "id = ?", id).Error; err != nil {
			return err
		}

		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "delete_story", EntityType: "story", EntityID: id, Actor: caller.Email, Payload: story,
		})
	})
	if err != nil {
		return s.fail(err, logrus.Fields{"story_id": id}, "deleting story")
	}

	s.observe("story", "delete_story")
	return nil
}

// Update patches a story. Admins may edit any story; authors only their own drafts.
func (s *service) Update(ctx context.Context, id string, patch Patch) (*Detail, error) {
	verdict, err := s.auth.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if verdict.Identity == nil {
		return nil, apperr.Forbidden("sign in required")
	}
	if err := validation.Struct(s.validate, patch); err != nil {
		return nil, err
	}

	loaded, err := loadStory(ctx, s.db, id)
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": id}, "loading story")
	}
	if !verdict.IsAdmin {
		if !isAuthor(loaded, verdict.Identity) || loaded.Status != StatusDraft {
			return nil, apperr.Forbidden("only the author may edit this draft")
		}
		if patch.Featured != nil {
			return nil, apperr.Forbidden("only admins may feature stories")
		}
	}

	story := *loaded
	patch.applyTo(&story)

	if story.Status == StatusPublished && story.CategoryID == nil {
		return nil, apperr.Validation("a published story must keep its category")
	}
	if story.Status == StatusPending || story.Status == StatusPublished {
		if err := checkPublishable(&story); err != nil {
			return nil, err
		}
	}
	s.fillDerived(ctx, &story)

	var updated *Story
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireCategory(ctx, tx, story.CategoryID); err != nil {
			return err
		}

		// Counters, status and timestamps other than updated_at belong to other paths.
		result := tx.Model(&Story{}).
			Where("id = ? AND status = ? AND updated_at = ?", id, loaded.Status, loaded.UpdatedAt).
			Updates(editableColumns(&story, s.now().UTC()))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("story %s was modified concurrently", id)
		}

		updated, err = loadStory(ctx, tx, id)
		if err != nil {
			return err
		}

		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "update_story", EntityType: "story", EntityID: id, Actor: verdict.Identity.Email, Payload: updated,
		})
	})
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": id}, "updating story")
	}

	return s.detail(ctx, updated)
}

func editableColumns(story *Story, now time.Time) map[string]any {
	return map[string]any{
		"title_sq":          story.TitleSQ,
		"title_en":          story.TitleEN,
		"content_sq":        story.ContentSQ,
		"content_en":        story.ContentEN,
		"excerpt_sq":        story.ExcerptSQ,
		"excerpt_en":        story.ExcerptEN,
		"category_id":       story.CategoryID,
		"cover_image_url":   story.CoverImageURL,
		"seo_title":         story.SEOTitle,
		"seo_description":   story.SEODescription,
		"seo_keywords":      story.SEOKeywords,
		"featured":          story.Featured,
		"read_time_minutes": story.ReadTimeMinutes,
		"updated_at":        now,
	}
}

// SetTags replaces the tag set of a story.
func (s *service) SetTags(ctx context.Context, id string, tagIDs []string) (*Detail, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	var story *Story
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := loadStory(ctx, tx, id)
		if err != nil {
			return err
		}
		story = loaded

		tags, err := taxonomy.ReplaceStoryTags(ctx, tx, id, tagIDs)
		if err != nil {
			return err
		}

		slugs := make([]string, 0, len(tags))
		for _, tag := range tags {
			slugs = append(slugs, tag.Slug)
		}

		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "update_story_tags", EntityType: "story", EntityID: id, Actor: caller.Email,
			Payload: map[string]any{"story_id": id, "tags": slugs},
		})
	})
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": id}, "replacing story tags")
	}

	return s.detail(ctx, story)
}

// apply runs one lifecycle transition as a conditional write inside a transaction, so the
// status and its publication timestamp always change together.
func (s *service) apply(ctx context.Context, actor, id string, t transition) (*Detail, error) {
	var (
		story   *Story
		changed bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := loadStory(ctx, tx, id)
		if err != nil {
			return err
		}
		story = loaded

		if t.authorize != nil {
			if err := t.authorize(story); err != nil {
				return err
			}
		}
		if t.idempotent && story.Status == t.to {
			return nil
		}
		if !slices.Contains(t.from, story.Status) {
			return apperr.Conflict("story %s is %s and cannot move to %s", id, story.Status, t.to)
		}
		if t.check != nil {
			if err := t.check(ctx, tx, story); err != nil {
				return err
			}
		}

		from := story.Status
		now := s.now().UTC()
		updates := map[string]any{"status": t.to, "updated_at": now}
		if t.to == StatusPublished && story.PublishedAt == nil {
			updates["published_at"] = now
			story.PublishedAt = &now
		}

		result := tx.Model(&Story{}).Where("id = ? AND status = ?", id, from).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("story %s was modified concurrently", id)
		}

		story.Status = t.to
		story.UpdatedAt = now
		changed = true

		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: t.action, EntityType: "story", EntityID: id, Actor: actor, Payload: story,
		})
	})
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": id, "action": t.action}, "applying story transition")
	}

	if changed {
		s.observe("story", t.action)
	}

	return s.detail(ctx, story)
}

func (s *service) create(ctx context.Context, story *Story, actor, action string) (*Detail, error) {
	s.fillDerived(ctx, story)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireCategory(ctx, tx, story.CategoryID); err != nil {
			return err
		}
		if err := tx.Create(story).Error; err != nil {
			return err
		}
		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: action, EntityType: "story", EntityID: story.ID, Actor: actor, Payload: story,
		})
	})
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": story.ID, "action": action}, "creating story")
	}

	s.observe("story", action)
	return s.detail(ctx, story)
}

func (s *service) newStory(draft Draft, verdict identity.Verdict) (*Story, error) {
	draft = draft.normalised()
	if err := validation.Struct(s.validate, draft); err != nil {
		return nil, err
	}
	if draft.Featured && !verdict.IsAdmin {
		return nil, apperr.Forbidden("only admins may feature stories")
	}

	now := s.now().UTC()
	authorID := verdict.Identity.ID

	return &Story{
		ID:             uuid.NewString(),
		TitleSQ:        draft.TitleSQ,
		TitleEN:        draft.TitleEN,
		ContentSQ:      draft.ContentSQ,
		ContentEN:      draft.ContentEN,
		ExcerptSQ:      draft.ExcerptSQ,
		ExcerptEN:      draft.ExcerptEN,
		CategoryID:     draft.CategoryID,
		CoverImageURL:  draft.CoverImageURL,
		SEOTitle:       draft.SEOTitle,
		SEODescription: draft.SEODescription,
		SEOKeywords:    draft.SEOKeywords,
		Featured:       draft.Featured,
		AuthorID:       &authorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// fillDerived recomputes the read time and fills missing excerpts.
func (s *service) fillDerived(ctx context.Context, story *Story) {
	story.ReadTimeMinutes = ReadTimeMinutes(story.ContentSQ, story.ContentEN)

	if story.ExcerptSQ == nil {
		story.ExcerptSQ = s.excerpt(ctx, story.ID, story.ContentSQ, "sq")
	}
	if story.ExcerptEN == nil {
		story.ExcerptEN = s.excerpt(ctx, story.ID, story.ContentEN, "en")
	}
}

func (s *service) excerpt(ctx context.Context, storyID, body, language string) *string {
	text := PlainText(body)
	if text == "" {
		return nil
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, text, language)
		if err == nil && summary != "" {
			return &summary
		}
		if err != nil && s.logger != nil {
			s.logger.WithFields(logrus.Fields{"story_id": storyID, "language": language, "error": err.Error()}).
				Warn("summarizer failed, truncating body instead")
		}
	}

	truncated := TruncateExcerpt(body)
	return &truncated
}

func (p Patch) applyTo(story *Story) {
	if p.TitleSQ != nil {
		story.TitleSQ = strings.TrimSpace(*p.TitleSQ)
	}
	if p.TitleEN != nil {
		story.TitleEN = strings.TrimSpace(*p.TitleEN)
	}
	if p.ContentSQ != nil {
		story.ContentSQ = strings.TrimSpace(*p.ContentSQ)
		story.ExcerptSQ = nil
	}
	if p.ContentEN != nil {
		story.ContentEN = strings.TrimSpace(*p.ContentEN)
		story.ExcerptEN = nil
	}
	if p.ExcerptSQ != nil {
		story.ExcerptSQ = optional(p.ExcerptSQ)
	}
	if p.ExcerptEN != nil {
		story.ExcerptEN = optional(p.ExcerptEN)
	}
	if p.CategoryID != nil {
		story.CategoryID = optional(p.CategoryID)
	}
	if p.CoverImageURL != nil {
		story.CoverImageURL = optional(p.CoverImageURL)
	}
	if p.SEOTitle != nil {
		story.SEOTitle = optional(p.SEOTitle)
	}
	if p.SEODescription != nil {
		story.SEODescription = optional(p.SEODescription)
	}
	if p.SEOKeywords != nil {
		story.SEOKeywords = keywords(*p.SEOKeywords)
	}
	if p.Featured != nil {
		story.Featured = *p.Featured
	}
}

func publishable(ctx context.Context, tx *gorm.DB, story *Story) error {
	if err := checkPublishable(story); err != nil {
		return err
	}
	return requireCategory(ctx, tx, story.CategoryID)
}

func requireCategory(ctx context.Context, tx *gorm.DB, categoryID *string) error {
	if categoryID == nil {
		return nil
	}

	exists, err := taxonomy.CategoryExists(ctx, tx, *categoryID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.Validation("category %s does not exist", *categoryID)
	}
	return nil
}

func isAuthor(story *Story, caller *identity.Identity) bool {
	return caller != nil && story.AuthorID != nil && *story.AuthorID == caller.ID
}
