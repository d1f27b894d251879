package http

import (
	"context"
	stdhttp "net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/adminrequest"
	"legjenda/app/internal/analytics"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/story"
	"legjenda/app/internal/taxonomy"
)

const maxCoverRequestBytes = 6 << 20

type statusesInput struct {
	Status []string `query:"status"`
}

type statusInput struct {
	Status string `query:"status"`
}

type tagsInput struct {
	ID   string `path:"id"`
	Body struct {
		TagIDs []string `json:"tag_ids" maxItems:"50"`
	}
}

type coverInput struct {
	Filename string `query:"filename" maxLength:"255"`
	RawBody  []byte `contentType:"application/octet-stream"`
}

type coverBody struct {
	URL string `json:"url"`
}

type decisionInput struct {
	ID   string `path:"id"`
	Body struct {
		Decision string `json:"decision" enum:"approve,reject"`
	}
}

type emailInput struct {
	Email string `path:"email" maxLength:"320"`
}

type categoryBody struct {
	NameSQ        string  `json:"name_sq" maxLength:"120"`
	NameEN        string  `json:"name_en" maxLength:"120"`
	Slug          string  `json:"slug,omitempty" maxLength:"120"`
	DescriptionSQ *string `json:"description_sq,omitempty"`
	DescriptionEN *string `json:"description_en,omitempty"`
}

type createCategoryInput struct {
	Body categoryBody
}

type updateCategoryInput struct {
	ID   string `path:"id"`
	Body categoryBody
}

type createTagInput struct {
	Body struct {
		Name string `json:"name" maxLength:"80"`
		Slug string `json:"slug,omitempty" maxLength:"80"`
	}
}

type limitInput struct {
	Limit int `query:"limit" minimum:"0"`
}

func (s *Server) registerAdminStoryRoutes() {
	register(s.api, stdhttp.MethodGet, "/admin/stories", "admin-list-stories", "Moderation queue", "admin", stdhttp.StatusOK, s.adminListStoriesHandler)
	register(s.api, stdhttp.MethodGet, "/admin/stories/{id}", "admin-get-story", "Fetch any story", "admin", stdhttp.StatusOK, s.adminGetStoryHandler)
	register(s.api, stdhttp.MethodPatch, "/admin/stories/{id}", "admin-update-story", "Edit any story", "admin", stdhttp.StatusOK, s.updateStoryHandler)
	register(s.api, stdhttp.MethodPost, "/admin/stories/{id}/approve", "approve-story", "Publish a story", "admin", stdhttp.StatusOK, s.transitionHandler(s.stories.Approve, "approving story"))
	register(s.api, stdhttp.MethodPost, "/admin/stories/{id}/reject", "reject-story", "Reject a story", "admin", stdhttp.StatusOK, s.transitionHandler(s.stories.Reject, "rejecting story"))
	register(s.api, stdhttp.MethodPost, "/admin/stories/{id}/unpublish", "unpublish-story", "Withdraw a published story", "admin", stdhttp.StatusOK, s.transitionHandler(s.stories.Unpublish, "unpublishing story"))
	register(s.api, stdhttp.MethodDelete, "/admin/stories/{id}", "delete-story", "Delete a story and its interactions", "admin", stdhttp.StatusNoContent, s.deleteStoryHandler)
	register(s.api, stdhttp.MethodPut, "/admin/stories/{id}/tags", "set-story-tags", "Replace a story's tags", "admin", stdhttp.StatusOK, s.setTagsHandler)
	register(s.api, stdhttp.MethodPost, "/admin/covers", "upload-cover", "Upload a cover image", "admin", stdhttp.StatusCreated, s.uploadCoverHandler, func(op *huma.Operation) {
		op.MaxBodyBytes = maxCoverRequestBytes
	})
}

func (s *Server) adminListStoriesHandler(ctx context.Context, input *statusesInput) (*output[[]story.Detail], error) {
	var statuses []story.Status
	for _, value := range trimmedList(input.Status) {
		statuses = append(statuses, story.Status(value))
	}

	stories, err := s.stories.ListForModeration(ctx, statuses)
	if err != nil {
		return nil, s.problem(ctx, err, "listing stories for moderation")
	}
	return respond(stories), nil
}

func (s *Server) adminGetStoryHandler(ctx context.Context, input *idInput) (*output[*story.Detail], error) {
	detail, err := s.stories.GetForAdmin(ctx, input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "loading story for admin")
	}
	return respond(detail), nil
}

func (s *Server) transitionHandler(apply func(context.Context, string) (*story.Detail, error), action string) func(context.Context, *idInput) (*output[*story.Detail], error) {
	return func(ctx context.Context, input *idInput) (*output[*story.Detail], error) {
		detail, err := apply(ctx, input.ID)
		if err != nil {
			return nil, s.problem(ctx, err, action)
		}
		return respond(detail), nil
	}
}

func (s *Server) deleteStoryHandler(ctx context.Context, input *idInput) (*struct{}, error) {
	if err := s.stories.Delete(ctx, input.ID); err != nil {
		return nil, s.problem(ctx, err, "deleting story")
	}
	return nil, nil
}

func (s *Server) setTagsHandler(ctx context.Context, input *tagsInput) (*output[*story.Detail], error) {
	detail, err := s.stories.SetTags(ctx, input.ID, input.Body.TagIDs)
	if err != nil {
		return nil, s.problem(ctx, err, "setting story tags")
	}
	return respond(detail), nil
}

func (s *Server) uploadCoverHandler(ctx context.Context, input *coverInput) (*output[coverBody], error) {
	url, err := s.stories.UploadCover(ctx, input.Filename, input.RawBody)
	if err != nil {
		return nil, s.problem(ctx, err, "uploading cover")
	}
	return respond(coverBody{URL: url}), nil
}

func (s *Server) registerAdminModerationRoutes() {
	register(s.api, stdhttp.MethodGet, "/admin/comments", "admin-list-comments", "Comment moderation queue", "admin", stdhttp.StatusOK, s.adminListCommentsHandler)
	register(s.api, stdhttp.MethodPost, "/admin/comments/{id}/approve", "approve-comment", "Approve a comment", "admin", stdhttp.StatusOK, s.commentHandler(s.stories.ApproveComment, "approving comment"))
	register(s.api, stdhttp.MethodPost, "/admin/comments/{id}/reject", "reject-comment", "Reject a comment", "admin", stdhttp.StatusOK, s.commentHandler(s.stories.RejectComment, "rejecting comment"))
	register(s.api, stdhttp.MethodDelete, "/admin/comments/{id}", "delete-comment", "Delete a comment", "admin", stdhttp.StatusNoContent, s.deleteCommentHandler)

	register(s.api, stdhttp.MethodGet, "/admin/admin-requests", "list-admin-requests", "List admin requests", "admin", stdhttp.StatusOK, s.listAdminRequestsHandler)
	register(s.api, stdhttp.MethodPost, "/admin/admin-requests/{id}/decision", "decide-admin-request", "Approve or reject an admin request", "admin", stdhttp.StatusOK, s.decideAdminRequestHandler)
	register(s.api, stdhttp.MethodGet, "/admin/admins", "list-admins", "List allow-listed admins", "admin", stdhttp.StatusOK, s.listAdminsHandler)
	register(s.api, stdhttp.MethodDelete, "/admin/admins/{email}", "revoke-admin", "Remove an admin from the allow-list", "admin", stdhttp.StatusNoContent, s.revokeAdminHandler)
}

func (s *Server) adminListCommentsHandler(ctx context.Context, input *statusInput) (*output[[]story.ModerationComment], error) {
	comments, err := s.stories.ListCommentsForModeration(ctx, story.CommentStatus(strings.TrimSpace(input.Status)))
	if err != nil {
		return nil, s.problem(ctx, err, "listing comments for moderation")
	}
	return respond(comments), nil
}

func (s *Server) commentHandler(apply func(context.Context, string) (*story.Comment, error), action string) func(context.Context, *idInput) (*output[*story.Comment], error) {
	return func(ctx context.Context, input *idInput) (*output[*story.Comment], error) {
		comment, err := apply(ctx, input.ID)
		if err != nil {
			return nil, s.problem(ctx, err, action)
		}
		return respond(comment), nil
	}
}

func (s *Server) deleteCommentHandler(ctx context.Context, input *idInput) (*struct{}, error) {
	if err := s.stories.DeleteComment(ctx, input.ID); err != nil {
		return nil, s.problem(ctx, err, "deleting comment")
	}
	return nil, nil
}

func (s *Server) listAdminRequestsHandler(ctx context.Context, input *statusInput) (*output[[]adminrequest.AdminRequest], error) {
	requests, err := s.adminRequests.List(ctx, adminrequest.Status(strings.TrimSpace(input.Status)))
	if err != nil {
		return nil, s.problem(ctx, err, "listing admin requests")
	}
	return respond(requests), nil
}

func (s *Server) decideAdminRequestHandler(ctx context.Context, input *decisionInput) (*output[*adminrequest.AdminRequest], error) {
	request, err := s.adminRequests.Decide(ctx, input.ID, adminrequest.Decision(input.Body.Decision))
	if err != nil {
		return nil, s.problem(ctx, err, "deciding admin request")
	}
	return respond(request), nil
}

func (s *Server) listAdminsHandler(ctx context.Context, _ *struct{}) (*output[[]identity.AllowlistEntry], error) {
	admins, err := s.adminRequests.ListAdmins(ctx)
	if err != nil {
		return nil, s.problem(ctx, err, "listing admins")
	}
	return respond(admins), nil
}

func (s *Server) revokeAdminHandler(ctx context.Context, input *emailInput) (*struct{}, error) {
	if err := s.adminRequests.RevokeAdmin(ctx, input.Email); err != nil {
		return nil, s.problem(ctx, err, "revoking admin")
	}
	return nil, nil
}

func (s *Server) registerAdminTaxonomyRoutes() {
	register(s.api, stdhttp.MethodPost, "/admin/categories", "create-category", "Create a category", "admin", stdhttp.StatusCreated, s.createCategoryHandler)
	register(s.api, stdhttp.MethodPut, "/admin/categories/{id}", "update-category", "Update a category", "admin", stdhttp.StatusOK, s.updateCategoryHandler)
	register(s.api, stdhttp.MethodDelete, "/admin/categories/{id}", "delete-category", "Delete an unused category", "admin", stdhttp.StatusNoContent, s.deleteCategoryHandler)
	register(s.api, stdhttp.MethodPost, "/admin/tags", "create-tag", "Create a tag", "admin", stdhttp.StatusCreated, s.createTagHandler)
	register(s.api, stdhttp.MethodDelete, "/admin/tags/{id}", "delete-tag", "Delete a tag", "admin", stdhttp.StatusNoContent, s.deleteTagHandler)
}

func (b categoryBody) input() taxonomy.CategoryInput {
	return taxonomy.CategoryInput(b)
}

func (s *Server) createCategoryHandler(ctx context.Context, input *createCategoryInput) (*output[*taxonomy.Category], error) {
	category, err := s.taxonomy.CreateCategory(ctx, input.Body.input())
	if err != nil {
		return nil, s.problem(ctx, err, "creating category")
	}
	return respond(category), nil
}

func (s *Server) updateCategoryHandler(ctx context.Context, input *updateCategoryInput) (*output[*taxonomy.Category], error) {
	category, err := s.taxonomy.UpdateCategory(ctx, input.ID, input.Body.input())
	if err != nil {
		return nil, s.problem(ctx, err, "updating category")
	}
	return respond(category), nil
}

func (s *Server) deleteCategoryHandler(ctx context.Context, input *idInput) (*struct{}, error) {
	if err := s.taxonomy.DeleteCategory(ctx, input.ID); err != nil {
		return nil, s.problem(ctx, err, "deleting category")
	}
	return nil, nil
}

func (s *Server) createTagHandler(ctx context.Context, input *createTagInput) (*output[*taxonomy.Tag], error) {
	tag, err := s.taxonomy.CreateTag(ctx, taxonomy.TagInput{Name: input.Body.Name, Slug: input.Body.Slug})
	if err != nil {
		return nil, s.problem(ctx, err, "creating tag")
	}
	return respond(tag), nil
}

func (s *Server) deleteTagHandler(ctx context.Context, input *idInput) (*struct{}, error) {
	if err := s.taxonomy.DeleteTag(ctx, input.ID); err != nil {
		return nil, s.problem(ctx, err, "deleting tag")
	}
	return nil, nil
}

func (s *Server) registerAdminInsightRoutes() {
	register(s.api, stdhttp.MethodGet, "/admin/activity", "list-activity", "Recent admin activity", "admin", stdhttp.StatusOK, s.listActivityHandler)
	register(s.api, stdhttp.MethodGet, "/admin/analytics/summary", "analytics-summary", "Dashboard counters", "admin", stdhttp.StatusOK, s.analyticsSummaryHandler)
	register(s.api, stdhttp.MethodGet, "/admin/analytics/top-stories", "analytics-top-stories", "Most viewed stories", "admin", stdhttp.StatusOK, s.topStoriesHandler)
}

func (s *Server) listActivityHandler(ctx context.Context, input *limitInput) (*output[[]activity.Entry], error) {
	entries, err := s.activity.List(ctx, input.Limit)
	if err != nil {
		return nil, s.problem(ctx, err, "listing activity")
	}
	return respond(entries), nil
}

func (s *Server) analyticsSummaryHandler(ctx context.Context, _ *struct{}) (*output[*analytics.Summary], error) {
	summary, err := s.analytics.Summary(ctx)
	if err != nil {
		return nil, s.problem(ctx, err, "loading analytics summary")
	}
	return respond(summary), nil
}

func (s *Server) topStoriesHandler(ctx context.Context, input *limitInput) (*output[[]analytics.StoryViews], error) {
	stories, err := s.analytics.TopStoriesByViews(ctx, input.Limit)
	if err != nil {
		return nil, s.problem(ctx, err, "loading top stories")
	}
	return respond(stories), nil
}

func trimmedList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
