package story

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
)

const maxCommentRunes = 2000

// SubmitComment adds a pending comment to a published story. Comments never skip moderation.
func (s *service) SubmitComment(ctx context.Context, storyID, content string) (*Comment, error) {
	caller, err := s.auth.RequireIdentity(ctx)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("comment content is required")
	}
	if utf8.RuneCountInString(content) > maxCommentRunes {
		return nil, apperr.Validation("comment must be at most %d characters", maxCommentRunes)
	}

	comment := Comment{
		ID:        uuid.NewString(),
		StoryID:   storyID,
		UserID:    caller.ID,
		Content:   content,
		Status:    CommentPending,
		CreatedAt: s.now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var published int64
		if err := tx.Model(&Story{}).Where("id = ? AND status = ?", storyID, StatusPublished).Count(&published).Error; err != nil {
			return err
		}
		if published == 0 {
			return apperr.NotFound("story %s not found", storyID)
		}
		return tx.Create(&comment).Error
	})
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": storyID}, "creating comment")
	}

	s.observe("comment", "submit_comment")
	return &comment, nil
}

// ApproveComment makes a comment public. Approving twice is harmless.
func (s *service) ApproveComment(ctx context.Context, id string) (*Comment, error) {
	return s.moderateComment(ctx, id, CommentApproved, "approve_comment")
}

// RejectComment hides a comment. Rejecting twice is harmless.
func (s *service) RejectComment(ctx context.Context, id string) (*Comment, error) {
	return s.moderateComment(ctx, id, CommentRejected, "reject_comment")
}

// DeleteComment removes a comment permanently.
func (s *service) DeleteComment(ctx context.Context, id string) error {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comment, err := loadComment(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&Comment{}, "id = ?", id).Error; err != nil {
			return err
		}
		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: "delete_comment", EntityType: "comment", EntityID: id, Actor: caller.Email, Payload: comment,
		})
	})
	if err != nil {
		return s.fail(err, logrus.Fields{"comment_id": id}, "deleting comment")
	}

	s.observe("comment", "delete_comment")
	return nil
}

// ListApprovedComments returns the public comments of a published story, newest first.
func (s *service) ListApprovedComments(ctx context.Context, storyID string) ([]Comment, error) {
	var published int64
	if err := s.db.WithContext(ctx).Model(&Story{}).Where("id = ? AND status = ?", storyID, StatusPublished).Count(&published).Error; err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": storyID}, "checking story visibility")
	}
	if published == 0 {
		return nil, apperr.NotFound("story %s not found", storyID)
	}

	comments := []Comment{}
	err := s.db.WithContext(ctx).
		Where("story_id = ? AND status = ?", storyID, CommentApproved).
		Order("created_at DESC").
		Find(&comments).Error
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"story_id": storyID}, "listing approved comments")
	}

	return comments, nil
}

// ListCommentsForModeration returns comments in status with their story titles. The
// default status is pending.
func (s *service) ListCommentsForModeration(ctx context.Context, status CommentStatus) ([]ModerationComment, error) {
	if _, err := s.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	if status == "" {
		status = CommentPending
	}
	if !status.Valid() {
		return nil, apperr.Validation("unknown comment status %q", status)
	}

	rows := []ModerationComment{}
	err := s.db.WithContext(ctx).
		Table("comments").
		Select("comments.*, stories.title_sq AS story_title_sq, stories.title_en AS story_title_en").
		Joins("JOIN stories ON stories.id = comments.story_id").
		Where("comments.status = ?", status).
		Order("comments.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, s.fail(err, nil, "listing comments for moderation")
	}

	return rows, nil
}

func (s *service) moderateComment(ctx context.Context, id string, to CommentStatus, action string) (*Comment, error) {
	caller, err := s.auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	var (
		comment *Comment
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := loadComment(ctx, tx, id)
		if err != nil {
			return err
		}
		comment = loaded
		if comment.Status == to {
			return nil
		}

		result := tx.Model(&Comment{}).Where("id = ? AND status = ?", id, comment.Status).Update("status", to)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("comment %s was modified concurrently", id)
		}
		comment.Status = to
		changed = true

		return s.log.WithTx(tx).Record(ctx, activity.Event{
			Action: action, EntityType: "comment", EntityID: id, Actor: caller.Email, Payload: comment,
		})
	})
	if err != nil {
		return nil, s.fail(err, logrus.Fields{"comment_id": id, "action": action}, "moderating comment")
	}

	if changed {
		s.observe("comment", action)
	}
	return comment, nil
}

func loadComment(ctx context.Context, tx *gorm.DB, id string) (*Comment, error) {
	var comment Comment
	if err := tx.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("comment %s not found", id)
		}
		return nil, err
	}
	return &comment, nil
}
