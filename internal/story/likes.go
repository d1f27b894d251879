package story

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
)

// ToggleLike likes a published story or removes the caller's like. The like row and the
// story's like_count change in the same transaction.
func (s *service) ToggleLike(ctx context.Context, storyID string) (LikeState, error) {
	caller, err := s.auth.RequireIdentity(ctx)
	if err != nil {
		return LikeState{}, err
	}

	var state LikeState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		story, err := loadStory(ctx, tx, storyID)
		if err != nil {
			return err
		}
		if story.Status != StatusPublished {
			return apperr.NotFound("story %s not found", storyID)
		}

		removed := tx.Where("story_id = ? AND user_id = ?", storyID, caller.ID).Delete(&Like{})
		if removed.Error != nil {
			return removed.Error
		}

		delta := gorm.Expr("CASE WHEN like_count > 0 THEN like_count - 1 ELSE 0 END")
		state.Liked = removed.RowsAffected == 0
		if state.Liked {
			like := Like{ID: uuid.NewString(), StoryID: storyID, UserID: caller.ID, CreatedAt: s.now().UTC()}
			if err := tx.Create(&like).Error; err != nil {
				if db.IsUniqueViolation(err) {
					return apperr.Conflict("like for story %s changed concurrently", storyID)
				}
				return err
			}
			delta = gorm.Expr("like_count + 1")
		}

		if err := tx.Model(&Story{}).Where("id = ?", storyID).UpdateColumn("like_count", delta).Error; err != nil {
			return err
		}

		return tx.Model(&Story{}).Select("like_count").Where("id = ?", storyID).Scan(&state.Count).Error
	})
	if err != nil {
		return LikeState{}, s.fail(err, logrus.Fields{"story_id": storyID, "user_id": caller.ID}, "toggling like")
	}

	return state, nil
}

// LikeStatus reports the like count of a published story and whether the caller likes it.
// Anonymous callers always see Liked=false.
func (s *service) LikeStatus(ctx context.Context, storyID string) (LikeState, error) {
	verdict, err := s.auth.Resolve(ctx)
	if err != nil {
		return LikeState{}, err
	}

	var story Story
	err = s.db.WithContext(ctx).Select("id", "like_count").First(&story, "id = ? AND status = ?", storyID, StatusPublished).Error
	if err != nil {
		if db.IsNotFound(err) {
			return LikeState{}, apperr.NotFound("story %s not found", storyID)
		}
		return LikeState{}, s.fail(err, logrus.Fields{"story_id": storyID}, "loading like count")
	}

	state := LikeState{Count: story.LikeCount}
	if verdict.Identity == nil {
		return state, nil
	}

	var mine int64
	if err := s.db.WithContext(ctx).Model(&Like{}).Where("story_id = ? AND user_id = ?", storyID, verdict.Identity.ID).Count(&mine).Error; err != nil {
		return LikeState{}, s.fail(err, logrus.Fields{"story_id": storyID}, "loading like status")
	}
	state.Liked = mine > 0

	return state, nil
}
