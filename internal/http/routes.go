package http

import (
	"context"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"legjenda/app/internal/db"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/story"
)

type output[T any] struct {
	Body T
}

func respond[T any](body T) *output[T] {
	return &output[T]{Body: body}
}

type idInput struct {
	ID string `path:"id"`
}

type healthResponse struct {
	Status int
	Body   struct {
		Status     string `json:"status"`
		Database   string `json:"database"`
		Covers     string `json:"covers"`
		Summarizer string `json:"summarizer"`
	}
}

// register adds an operation with an explicit id and default status.
func register[I, O any](api huma.API, method, path, id, summary, tag string, status int, handler func(context.Context, *I) (*O, error), configure ...func(*huma.Operation)) {
	op := huma.Operation{
		OperationID:   id,
		Method:        method,
		Path:          path,
		Summary:       summary,
		Tags:          []string{tag},
		DefaultStatus: status,
	}
	for _, fn := range configure {
		fn(&op)
	}
	huma.Register(api, op, handler)
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
		op.Tags = []string{"system"}
	})
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"
	resp.Body.Covers = "ready"
	resp.Body.Summarizer = "ready"

	sqlDB, err := db.SQLDB(s.db)
	if err != nil {
		s.recordError(ctx, err, "obtaining sql db", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	} else if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		s.recordError(ctx, pingErr, "pinging database", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	// Optional collaborators never fail the check.
	if !s.coverUploads {
		resp.Body.Covers = "unconfigured"
	}
	if !s.summaries {
		resp.Body.Summarizer = "unconfigured"
	}

	if resp.Status == 0 {
		resp.Status = stdhttp.StatusOK
	}

	return resp, nil
}

// Auth

type credentialsInput struct {
	Body struct {
		Email    string `json:"email" maxLength:"320"`
		Password string `json:"password" maxLength:"72"`
	}
}

type registerInput struct {
	Body struct {
		Email    string `json:"email" maxLength:"320"`
		Password string `json:"password" maxLength:"72"`
		FullName string `json:"full_name,omitempty" maxLength:"200"`
	}
}

type sessionBody struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      identity.Identity `json:"user"`
	IsAdmin   bool              `json:"is_admin"`
}

type verdictBody struct {
	User    *identity.Identity `json:"user"`
	IsAdmin bool               `json:"is_admin"`
}

func (s *Server) registerAuthRoutes() {
	register(s.api, stdhttp.MethodPost, "/auth/register", "register", "Create an account", "auth", stdhttp.StatusCreated, s.signUpHandler)
	register(s.api, stdhttp.MethodPost, "/auth/sign-in", "sign-in", "Sign in with email and password", "auth", stdhttp.StatusOK, s.signInHandler)
	register(s.api, stdhttp.MethodPost, "/auth/sign-out", "sign-out", "Revoke the current session", "auth", stdhttp.StatusNoContent, s.signOutHandler)
	register(s.api, stdhttp.MethodGet, "/auth/session", "get-session", "Resolve the caller", "auth", stdhttp.StatusOK, s.sessionHandler)
}

func (s *Server) signUpHandler(ctx context.Context, input *registerInput) (*output[sessionBody], error) {
	session, err := s.accounts.Register(ctx, input.Body.Email, input.Body.Password, input.Body.FullName)
	if err != nil {
		return nil, s.problem(ctx, err, "registering account")
	}
	return s.sessionResponse(ctx, session)
}

func (s *Server) signInHandler(ctx context.Context, input *credentialsInput) (*output[sessionBody], error) {
	session, err := s.accounts.SignInWithPassword(ctx, input.Body.Email, input.Body.Password)
	if err != nil {
		return nil, s.problem(ctx, err, "signing in")
	}
	return s.sessionResponse(ctx, session)
}

func (s *Server) sessionResponse(ctx context.Context, session *identity.Session) (*output[sessionBody], error) {
	verdict, err := s.resolver.Resolve(identity.WithToken(ctx, session.Token))
	if err != nil {
		return nil, s.problem(ctx, err, "resolving new session")
	}

	return respond(sessionBody{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      session.Identity,
		IsAdmin:   verdict.IsAdmin,
	}), nil
}

func (s *Server) signOutHandler(ctx context.Context, _ *struct{}) (*struct{}, error) {
	if err := s.accounts.SignOut(ctx); err != nil {
		return nil, s.problem(ctx, err, "signing out")
	}
	return nil, nil
}

func (s *Server) sessionHandler(ctx context.Context, _ *struct{}) (*output[verdictBody], error) {
	verdict, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, s.problem(ctx, err, "resolving session")
	}
	return respond(verdictBody{User: verdict.Identity, IsAdmin: verdict.IsAdmin}), nil
}

// Stories

type storyBody struct {
	TitleSQ        string   `json:"title_sq,omitempty" maxLength:"255"`
	TitleEN        string   `json:"title_en,omitempty" maxLength:"255"`
	ContentSQ      string   `json:"content_sq,omitempty"`
	ContentEN      string   `json:"content_en,omitempty"`
	ExcerptSQ      *string  `json:"excerpt_sq,omitempty"`
	ExcerptEN      *string  `json:"excerpt_en,omitempty"`
	CategoryID     *string  `json:"category_id,omitempty"`
	CoverImageURL  *string  `json:"cover_image_url,omitempty"`
	SEOTitle       *string  `json:"seo_title,omitempty"`
	SEODescription *string  `json:"seo_description,omitempty"`
	SEOKeywords    []string `json:"seo_keywords,omitempty"`
	Featured       bool     `json:"featured,omitempty"`
}

func (b storyBody) draft() story.Draft {
	return story.Draft{
		TitleSQ:        b.TitleSQ,
		TitleEN:        b.TitleEN,
		ContentSQ:      b.ContentSQ,
		ContentEN:      b.ContentEN,
		ExcerptSQ:      b.ExcerptSQ,
		ExcerptEN:      b.ExcerptEN,
		CategoryID:     b.CategoryID,
		CoverImageURL:  b.CoverImageURL,
		SEOTitle:       b.SEOTitle,
		SEODescription: b.SEODescription,
		SEOKeywords:    b.SEOKeywords,
		Featured:       b.Featured,
	}
}

type patchBody struct {
	TitleSQ        *string   `json:"title_sq,omitempty"`
	TitleEN        *string   `json:"title_en,omitempty"`
	ContentSQ      *string   `json:"content_sq,omitempty"`
	ContentEN      *string   `json:"content_en,omitempty"`
	ExcerptSQ      *string   `json:"excerpt_sq,omitempty"`
	ExcerptEN      *string   `json:"excerpt_en,omitempty"`
	CategoryID     *string   `json:"category_id,omitempty"`
	CoverImageURL  *string   `json:"cover_image_url,omitempty"`
	SEOTitle       *string   `json:"seo_title,omitempty"`
	SEODescription *string   `json:"seo_description,omitempty"`
	SEOKeywords    *[]string `json:"seo_keywords,omitempty"`
	Featured       *bool     `json:"featured,omitempty"`
}

func (b patchBody) patch() story.Patch {
	return story.Patch(b)
}

type createStoryInput struct {
	Body storyBody
}

type updateStoryInput struct {
	ID   string `path:"id"`
	Body patchBody
}

type listStoriesInput struct {
	Category string `query:"category"`
	Tag      string `query:"tag"`
	Featured string `query:"featured" enum:"true,false"`
	Query    string `query:"q" maxLength:"200"`
	Limit    int    `query:"limit" minimum:"0"`
	Offset   int    `query:"offset" minimum:"0"`
}

func (s *Server) registerStoryRoutes() {
	register(s.api, stdhttp.MethodGet, "/stories", "list-stories", "List published stories", "stories", stdhttp.StatusOK, s.listStoriesHandler)
	register(s.api, stdhttp.MethodPost, "/stories", "submit-story", "Submit a story for moderation", "stories", stdhttp.StatusCreated, s.submitStoryHandler)
	register(s.api, stdhttp.MethodPost, "/stories/drafts", "save-draft", "Save a story draft", "stories", stdhttp.StatusCreated, s.saveDraftHandler)
	register(s.api, stdhttp.MethodGet, "/stories/mine", "list-own-stories", "List the caller's stories", "stories", stdhttp.StatusOK, s.listOwnHandler)
	register(s.api, stdhttp.MethodGet, "/stories/{id}", "get-story", "Fetch a published story", "stories", stdhttp.StatusOK, s.getStoryHandler)
	register(s.api, stdhttp.MethodPatch, "/stories/{id}", "update-own-story", "Edit one of the caller's drafts", "stories", stdhttp.StatusOK, s.updateStoryHandler)
	register(s.api, stdhttp.MethodPost, "/stories/{id}/submit", "submit-draft", "Send a draft to moderation", "stories", stdhttp.StatusOK, s.submitDraftHandler)
}

func (s *Server) listStoriesHandler(ctx context.Context, input *listStoriesInput) (*output[[]story.Detail], error) {
	filter := story.ListFilter{
		CategorySlug: input.Category,
		TagSlug:      input.Tag,
		Query:        input.Query,
		Limit:        input.Limit,
		Offset:       input.Offset,
	}
	if input.Featured != "" {
		featured, err := strconv.ParseBool(input.Featured)
		if err != nil {
			return nil, huma.Error400BadRequest("featured must be true or false")
		}
		filter.Featured = &featured
	}

	stories, err := s.stories.ListPublished(ctx, filter)
	if err != nil {
		return nil, s.problem(ctx, err, "listing stories")
	}
	return respond(stories), nil
}

func (s *Server) submitStoryHandler(ctx context.Context, input *createStoryInput) (*output[*story.Detail], error) {
	detail, err := s.stories.Submit(ctx, input.Body.draft())
	if err != nil {
		return nil, s.problem(ctx, err, "submitting story")
	}
	return respond(detail), nil
}

func (s *Server) saveDraftHandler(ctx context.Context, input *createStoryInput) (*output[*story.Detail], error) {
	detail, err := s.stories.SaveDraft(ctx, input.Body.draft())
	if err != nil {
		return nil, s.problem(ctx, err, "saving draft")
	}
	return respond(detail), nil
}

func (s *Server) listOwnHandler(ctx context.Context, _ *struct{}) (*output[[]story.Detail], error) {
	stories, err := s.stories.ListOwn(ctx)
	if err != nil {
		return nil, s.problem(ctx, err, "listing own stories")
	}
	return respond(stories), nil
}

func (s *Server) getStoryHandler(ctx context.Context, input *idInput) (*output[*story.Detail], error) {
	detail, err := s.stories.GetPublished(ctx, input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "loading story")
	}
	return respond(detail), nil
}

func (s *Server) updateStoryHandler(ctx context.Context, input *updateStoryInput) (*output[*story.Detail], error) {
	detail, err := s.stories.Update(ctx, input.ID, input.Body.patch())
	if err != nil {
		return nil, s.problem(ctx, err, "updating story")
	}
	return respond(detail), nil
}

func (s *Server) submitDraftHandler(ctx context.Context, input *idInput) (*output[*story.Detail], error) {
	detail, err := s.stories.SubmitDraft(ctx, input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "submitting draft")
	}
	return respond(detail), nil
}

// Likes, views and comments

type commentInput struct {
	ID   string `path:"id"`
	Body struct {
		Content string `json:"content" maxLength:"8000"`
	}
}

func (s *Server) registerInteractionRoutes() {
	register(s.api, stdhttp.MethodPost, "/stories/{id}/views", "record-view", "Count a story view", "interactions", stdhttp.StatusNoContent, s.recordViewHandler)
	register(s.api, stdhttp.MethodGet, "/stories/{id}/like", "get-like", "Like count and caller state", "interactions", stdhttp.StatusOK, s.likeStatusHandler)
	register(s.api, stdhttp.MethodPost, "/stories/{id}/like", "toggle-like", "Like or unlike a story", "interactions", stdhttp.StatusOK, s.toggleLikeHandler)
	register(s.api, stdhttp.MethodGet, "/stories/{id}/comments", "list-comments", "List approved comments", "interactions", stdhttp.StatusOK, s.listCommentsHandler)
	register(s.api, stdhttp.MethodPost, "/stories/{id}/comments", "submit-comment", "Submit a comment for moderation", "interactions", stdhttp.StatusCreated, s.submitCommentHandler)
}

func (s *Server) recordViewHandler(ctx context.Context, input *idInput) (*struct{}, error) {
	if err := s.stories.RecordView(ctx, input.ID); err != nil {
		return nil, s.problem(ctx, err, "recording view")
	}
	return nil, nil
}

func (s *Server) likeStatusHandler(ctx context.Context, input *idInput) (*output[story.LikeState], error) {
	state, err := s.stories.LikeStatus(ctx, input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "loading like status")
	}
	return respond(state), nil
}

func (s *Server) toggleLikeHandler(ctx context.Context, input *idInput) (*output[story.LikeState], error) {
	state, err := s.stories.ToggleLike(ctx, input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "toggling like")
	}
	return respond(state), nil
}

func (s *Server) listCommentsHandler(ctx context.Context, input *idInput) (*output[[]story.Comment], error) {
	comments, err := s.stories.ListApprovedComments(ctx, input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "listing comments")
	}
	return respond(comments), nil
}

func (s *Server) submitCommentHandler(ctx context.Context, input *commentInput) (*output[*story.Comment], error) {
	comment, err := s.stories.SubmitComment(ctx, input.ID, input.Body.Content)
	if err != nil {
		return nil, s.problem(ctx, err, "submitting comment")
	}
	return respond(comment), nil
}
