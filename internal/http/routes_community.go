package http

import (
	"context"
	stdhttp "net/http"

	"legjenda/app/internal/adminrequest"
	"legjenda/app/internal/analytics"
	"legjenda/app/internal/taxonomy"
)

type slugInput struct {
	Slug string `path:"slug" maxLength:"120"`
}

type adminRequestInput struct {
	Body struct {
		Email string `json:"email" maxLength:"320"`
	}
}

type visitInput struct {
	Body struct {
		PageURL   string `json:"page_url" maxLength:"2048"`
		UserAgent string `json:"user_agent,omitempty" maxLength:"512"`
	}
}

type visitBody struct {
	ID string `json:"id"`
}

func (s *Server) registerTaxonomyRoutes() {
	register(s.api, stdhttp.MethodGet, "/categories", "list-categories", "List categories", "taxonomy", stdhttp.StatusOK, s.listCategoriesHandler)
	register(s.api, stdhttp.MethodGet, "/categories/{slug}", "get-category", "Fetch a category by slug", "taxonomy", stdhttp.StatusOK, s.getCategoryHandler)
	register(s.api, stdhttp.MethodGet, "/tags", "list-tags", "List tags", "taxonomy", stdhttp.StatusOK, s.listTagsHandler)
	register(s.api, stdhttp.MethodGet, "/stats/categories", "category-counts", "Published stories per category", "taxonomy", stdhttp.StatusOK, s.categoryCountsHandler)
}

func (s *Server) listCategoriesHandler(ctx context.Context, _ *struct{}) (*output[[]taxonomy.Category], error) {
	categories, err := s.taxonomy.ListCategories(ctx)
	if err != nil {
		return nil, s.problem(ctx, err, "listing categories")
	}
	return respond(categories), nil
}

func (s *Server) getCategoryHandler(ctx context.Context, input *slugInput) (*output[*taxonomy.Category], error) {
	category, err := s.taxonomy.GetCategoryBySlug(ctx, input.Slug)
	if err != nil {
		return nil, s.problem(ctx, err, "loading category")
	}
	return respond(category), nil
}

func (s *Server) listTagsHandler(ctx context.Context, _ *struct{}) (*output[[]taxonomy.Tag], error) {
	tags, err := s.taxonomy.ListTags(ctx)
	if err != nil {
		return nil, s.problem(ctx, err, "listing tags")
	}
	return respond(tags), nil
}

func (s *Server) categoryCountsHandler(ctx context.Context, _ *struct{}) (*output[[]analytics.CategoryCount], error) {
	counts, err := s.analytics.PublishedCountsByCategory(ctx)
	if err != nil {
		return nil, s.problem(ctx, err, "counting stories per category")
	}
	return respond(counts), nil
}

func (s *Server) registerCommunityRoutes() {
	register(s.api, stdhttp.MethodPost, "/admin-requests", "request-admin", "Ask for admin access", "community", stdhttp.StatusCreated, s.requestAdminHandler)
	register(s.api, stdhttp.MethodPost, "/visits", "record-visit", "Record a page visit", "community", stdhttp.StatusCreated, s.recordVisitHandler)
}

func (s *Server) requestAdminHandler(ctx context.Context, input *adminRequestInput) (*output[*adminrequest.AdminRequest], error) {
	request, err := s.adminRequests.Submit(ctx, input.Body.Email)
	if err != nil {
		return nil, s.problem(ctx, err, "submitting admin request")
	}
	return respond(request), nil
}

func (s *Server) recordVisitHandler(ctx context.Context, input *visitInput) (*output[visitBody], error) {
	client := ClientFromContext(ctx)
	userAgent := input.Body.UserAgent
	if userAgent == "" {
		userAgent = client.UserAgent
	}

	visit, err := s.analytics.RecordVisit(ctx, analytics.VisitInput{
		IP:        client.IP,
		UserAgent: userAgent,
		PageURL:   input.Body.PageURL,
	})
	if err != nil {
		return nil, s.problem(ctx, err, "recording visit")
	}
	return respond(visitBody{ID: visit.ID}), nil
}
