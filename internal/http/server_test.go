package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/adminrequest"
	"legjenda/app/internal/analytics"
	"legjenda/app/internal/db"
	"legjenda/app/internal/emailcheck"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/metrics"
	"legjenda/app/internal/story"
	"legjenda/app/internal/taxonomy"
)

const (
	adminEmail    = "admin@example.com"
	testPassword  = "rozafa-1234"
	testRemoteIP  = "192.0.2.10"
	generousBurst = 1000
)

type testEnv struct {
	server   *Server
	db       *gorm.DB
	category taxonomy.Category
}

func newTestEnv(t *testing.T, burst int) *testEnv {
	t.Helper()

	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gormDB, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "http.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	migrations := []func(context.Context, *gorm.DB, *logrus.Logger) error{
		identity.Migrate,
		activity.Migrate,
		taxonomy.Migrate,
		story.Migrate,
		adminrequest.Migrate,
		analytics.Migrate,
	}
	for _, migrate := range migrations {
		if err := migrate(ctx, gormDB, logger); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	provider, err := identity.NewJWTProvider(gormDB, identity.JWTOptions{Secret: "test-secret", TTL: time.Hour}, logger, nil)
	if err != nil {
		t.Fatalf("NewJWTProvider returned error: %v", err)
	}
	allowlist, err := identity.NewAllowlist(gormDB, logger)
	if err != nil {
		t.Fatalf("NewAllowlist returned error: %v", err)
	}
	if err := allowlist.Seed(ctx, []string{adminEmail}); err != nil {
		t.Fatalf("seeding allow-list failed: %v", err)
	}
	resolver, err := identity.NewResolver(provider, allowlist, logger, nil)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	activityLog, err := activity.NewLog(gormDB, resolver, logger, nil)
	if err != nil {
		t.Fatalf("activity.NewLog returned error: %v", err)
	}
	collectors := metrics.New()

	taxonomyService, err := taxonomy.NewService(gormDB, resolver, activityLog, logger, nil)
	if err != nil {
		t.Fatalf("taxonomy.NewService returned error: %v", err)
	}
	if err := taxonomyService.SeedCategories(ctx); err != nil {
		t.Fatalf("SeedCategories returned error: %v", err)
	}
	var category taxonomy.Category
	if err := gormDB.Where("slug = ?", "legjenda-urbane").First(&category).Error; err != nil {
		t.Fatalf("loading seeded category failed: %v", err)
	}

	storyService, err := story.NewService(story.Dependencies{
		DB:       gormDB,
		Auth:     resolver,
		Activity: activityLog,
		Observer: collectors,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("story.NewService returned error: %v", err)
	}

	requests, err := adminrequest.NewService(adminrequest.Dependencies{
		DB:        gormDB,
		Auth:      resolver,
		Allowlist: allowlist,
		Checker:   emailcheck.Static{},
		Activity:  activityLog,
		Observer:  collectors,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("adminrequest.NewService returned error: %v", err)
	}

	aggregator, err := analytics.NewAggregator(gormDB, resolver, logger, nil)
	if err != nil {
		t.Fatalf("analytics.NewAggregator returned error: %v", err)
	}

	srv, err := NewServer(Options{
		Accounts:      provider,
		Resolver:      resolver,
		Stories:       storyService,
		Taxonomy:      taxonomyService,
		AdminRequests: requests,
		Analytics:     aggregator,
		Activity:      activityLog,
		Database:      gormDB,
		Metrics:       collectors,
		Logger:        logger,
		RateLimiter: RateLimiterSettings{
			RequestsPerSecond: 1,
			Burst:             burst,
			ClientTTL:         time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, db: gormDB, category: category}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body failed: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = testRemoteIP + ":40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()

	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q failed: %v", rec.Body.String(), err)
	}
	return out
}

// signUp registers email and returns its bearer token.
func (e *testEnv) signUp(t *testing.T, email string) string {
	t.Helper()

	rec := e.do(t, stdhttp.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": testPassword})
	expectStatus(t, rec, stdhttp.StatusCreated)
	return decode[sessionBody](t, rec).Token
}

func (e *testEnv) storyPayload(title string) map[string]any {
	return map[string]any{
		"title_sq":    title + " sq",
		"title_en":    title + " en",
		"content_sq":  "<p>Një histori e vjetër nga Shkodra.</p>",
		"content_en":  "<p>An old story from Shkodra.</p>",
		"category_id": e.category.ID,
	}
}

func TestHealthReportsOptionalCollaborators(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, generousBurst)
	rec := env.do(t, stdhttp.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, stdhttp.StatusOK)

	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" || body["database"] != "ok" {
		t.Fatalf("expected healthy database, got %v", body)
	}
	if body["covers"] != "unconfigured" || body["summarizer"] != "unconfigured" {
		t.Fatalf("expected optional collaborators to be reported unconfigured, got %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, generousBurst)
	expectStatus(t, env.do(t, stdhttp.MethodGet, "/healthz", "", nil), stdhttp.StatusOK)

	rec := env.do(t, stdhttp.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, stdhttp.StatusOK)

	want := `legjenda_http_requests_total{method="GET",route="/healthz",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("expected metrics output to contain %q, got %s", want, rec.Body.String())
	}
}

func TestSessionFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, generousBurst)

	anonymous := decode[verdictBody](t, env.do(t, stdhttp.MethodGet, "/auth/session", "", nil))
	if anonymous.User != nil || anonymous.IsAdmin {
		t.Fatalf("expected anonymous verdict, got %+v", anonymous)
	}

	adminToken := env.signUp(t, "Admin@Example.com")
	verdict := decode[verdictBody](t, env.do(t, stdhttp.MethodGet, "/auth/session", adminToken, nil))
	if verdict.User == nil || verdict.User.Email != adminEmail || !verdict.IsAdmin {
		t.Fatalf("expected allow-listed admin verdict, got %+v", verdict)
	}

	rec := env.do(t, stdhttp.MethodPost, "/auth/sign-in", "", map[string]string{"email": adminEmail, "password": "wrong-password"})
	expectStatus(t, rec, stdhttp.StatusUnauthorized)

	rec = env.do(t, stdhttp.MethodPost, "/auth/register", "", map[string]string{"email": adminEmail, "password": testPassword})
	expectStatus(t, rec, stdhttp.StatusConflict)

	rec = env.do(t, stdhttp.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email", "password": testPassword})
	expectStatus(t, rec, stdhttp.StatusBadRequest)

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/auth/sign-out", adminToken, nil), stdhttp.StatusNoContent)

	revoked := decode[verdictBody](t, env.do(t, stdhttp.MethodGet, "/auth/session", adminToken, nil))
	if revoked.User != nil {
		t.Fatalf("expected signed out token to resolve anonymously, got %+v", revoked)
	}
}

func TestStoryModerationOverHTTP(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, generousBurst)
	readerToken := env.signUp(t, "reader@example.com")
	adminToken := env.signUp(t, adminEmail)

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/stories", "", env.storyPayload("Rozafa")), stdhttp.StatusForbidden)

	invalid := env.storyPayload("Rozafa")
	invalid["title_sq"] = "   "
	expectStatus(t, env.do(t, stdhttp.MethodPost, "/stories", readerToken, invalid), stdhttp.StatusBadRequest)

	rec := env.do(t, stdhttp.MethodPost, "/stories", readerToken, env.storyPayload("Rozafa"))
	expectStatus(t, rec, stdhttp.StatusCreated)
	created := decode[story.Detail](t, rec)
	if created.Status != story.StatusPending {
		t.Fatalf("expected pending story, got %s", created.Status)
	}

	expectStatus(t, env.do(t, stdhttp.MethodGet, "/stories/"+created.ID, "", nil), stdhttp.StatusNotFound)
	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin/stories/"+created.ID+"/approve", readerToken, nil), stdhttp.StatusForbidden)

	rec = env.do(t, stdhttp.MethodGet, "/admin/stories?status=pending", adminToken, nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	if queue := decode[[]story.Detail](t, rec); len(queue) != 1 || queue[0].ID != created.ID {
		t.Fatalf("expected the pending story in the queue, got %+v", queue)
	}

	rec = env.do(t, stdhttp.MethodPost, "/admin/stories/"+created.ID+"/approve", adminToken, nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	if approved := decode[story.Detail](t, rec); approved.Status != story.StatusPublished || approved.PublishedAt == nil {
		t.Fatalf("expected published story with publication time, got %+v", approved.Story)
	}

	expectStatus(t, env.do(t, stdhttp.MethodGet, "/stories/"+created.ID, "", nil), stdhttp.StatusOK)

	rec = env.do(t, stdhttp.MethodGet, "/stories?category=legjenda-urbane&q=rozafa", "", nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	if listed := decode[[]story.Detail](t, rec); len(listed) != 1 {
		t.Fatalf("expected one published story in the listing, got %d", len(listed))
	}

	expectStatus(t, env.do(t, stdhttp.MethodGet, "/stories?featured=maybe", "", nil), stdhttp.StatusUnprocessableEntity)

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin/stories/"+created.ID+"/unpublish", adminToken, nil), stdhttp.StatusOK)
	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin/stories/"+created.ID+"/unpublish", adminToken, nil), stdhttp.StatusConflict)
	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin/stories/missing/approve", adminToken, nil), stdhttp.StatusNotFound)

	rec = env.do(t, stdhttp.MethodGet, "/admin/activity", adminToken, nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	entries := decode[[]activity.Entry](t, rec)
	if len(entries) == 0 || entries[0].Action != "unpublish_story" {
		t.Fatalf("expected unpublish_story as the latest activity, got %+v", entries)
	}
}

func TestInteractionsOverHTTP(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, generousBurst)
	readerToken := env.signUp(t, "reader@example.com")
	adminToken := env.signUp(t, adminEmail)

	rec := env.do(t, stdhttp.MethodPost, "/stories", adminToken, env.storyPayload("Kalaja"))
	expectStatus(t, rec, stdhttp.StatusCreated)
	published := decode[story.Detail](t, rec)
	if published.Status != story.StatusPublished {
		t.Fatalf("expected admin submission to publish directly, got %s", published.Status)
	}

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/stories/"+published.ID+"/like", "", nil), stdhttp.StatusForbidden)

	rec = env.do(t, stdhttp.MethodPost, "/stories/"+published.ID+"/like", readerToken, nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	if state := decode[story.LikeState](t, rec); !state.Liked || state.Count != 1 {
		t.Fatalf("expected liked state with one like, got %+v", state)
	}

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/stories/"+published.ID+"/views", "", nil), stdhttp.StatusNoContent)

	rec = env.do(t, stdhttp.MethodPost, "/stories/"+published.ID+"/comments", readerToken, map[string]string{"content": "Shumë e bukur!"})
	expectStatus(t, rec, stdhttp.StatusCreated)
	comment := decode[story.Comment](t, rec)

	rec = env.do(t, stdhttp.MethodGet, "/stories/"+published.ID+"/comments", "", nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	if comments := decode[[]story.Comment](t, rec); len(comments) != 0 {
		t.Fatalf("expected pending comment to stay hidden, got %d", len(comments))
	}

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin/comments/"+comment.ID+"/approve", adminToken, nil), stdhttp.StatusOK)

	rec = env.do(t, stdhttp.MethodGet, "/stories/"+published.ID+"/comments", "", nil)
	if comments := decode[[]story.Comment](t, rec); len(comments) != 1 {
		t.Fatalf("expected approved comment to be listed, got %d", len(comments))
	}

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/visits", "", map[string]string{"page_url": "/stories/" + published.ID}), stdhttp.StatusCreated)

	rec = env.do(t, stdhttp.MethodGet, "/admin/analytics/summary", adminToken, nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	summary := decode[analytics.Summary](t, rec)
	if summary.TotalViews != 1 || summary.TotalLikes != 1 || summary.TotalApprovedComments != 1 || summary.UniqueVisitors != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	expectStatus(t, env.do(t, stdhttp.MethodGet, "/admin/analytics/summary", readerToken, nil), stdhttp.StatusForbidden)
}

func TestAdminRequestsOverHTTP(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, generousBurst)
	adminToken := env.signUp(t, adminEmail)

	rec := env.do(t, stdhttp.MethodPost, "/admin-requests", "", map[string]string{"email": "Editor@Example.com"})
	expectStatus(t, rec, stdhttp.StatusCreated)
	request := decode[adminrequest.AdminRequest](t, rec)

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin-requests", "", map[string]string{"email": "editor@example.com"}), stdhttp.StatusConflict)

	path := "/admin/admin-requests/" + request.ID + "/decision"
	expectStatus(t, env.do(t, stdhttp.MethodPost, path, "", map[string]string{"decision": "approve"}), stdhttp.StatusForbidden)

	rec = env.do(t, stdhttp.MethodPost, path, adminToken, map[string]string{"decision": "approve"})
	expectStatus(t, rec, stdhttp.StatusOK)
	if decided := decode[adminrequest.AdminRequest](t, rec); decided.Status != adminrequest.StatusApproved {
		t.Fatalf("expected approved request, got %s", decided.Status)
	}

	expectStatus(t, env.do(t, stdhttp.MethodPost, path, adminToken, map[string]string{"decision": "reject"}), stdhttp.StatusConflict)
	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin-requests", "", map[string]string{"email": "editor@example.com"}), stdhttp.StatusCreated)

	editorToken := env.signUp(t, "editor@example.com")
	verdict := decode[verdictBody](t, env.do(t, stdhttp.MethodGet, "/auth/session", editorToken, nil))
	if !verdict.IsAdmin {
		t.Fatalf("expected approved requester to be admin, got %+v", verdict)
	}

	rec = env.do(t, stdhttp.MethodGet, "/admin/admins", editorToken, nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	if admins := decode[[]identity.AllowlistEntry](t, rec); len(admins) != 2 {
		t.Fatalf("expected two admins, got %+v", admins)
	}

	expectStatus(t, env.do(t, stdhttp.MethodDelete, "/admin/admins/"+adminEmail, adminToken, nil), stdhttp.StatusConflict)
	expectStatus(t, env.do(t, stdhttp.MethodDelete, "/admin/admins/editor@example.com", adminToken, nil), stdhttp.StatusNoContent)

	demoted := decode[verdictBody](t, env.do(t, stdhttp.MethodGet, "/auth/session", editorToken, nil))
	if demoted.IsAdmin {
		t.Fatalf("expected revoked admin to lose privileges")
	}
}

func TestTaxonomyOverHTTP(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, generousBurst)
	adminToken := env.signUp(t, adminEmail)

	rec := env.do(t, stdhttp.MethodGet, "/categories", "", nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	if categories := decode[[]taxonomy.Category](t, rec); len(categories) != 3 {
		t.Fatalf("expected three seeded categories, got %d", len(categories))
	}

	expectStatus(t, env.do(t, stdhttp.MethodGet, "/categories/legjenda-urbane", "", nil), stdhttp.StatusOK)
	expectStatus(t, env.do(t, stdhttp.MethodGet, "/categories/nuk-ekziston", "", nil), stdhttp.StatusNotFound)

	rec = env.do(t, stdhttp.MethodPost, "/admin/tags", adminToken, map[string]string{"name": "Kështjella"})
	expectStatus(t, rec, stdhttp.StatusCreated)
	tag := decode[taxonomy.Tag](t, rec)

	expectStatus(t, env.do(t, stdhttp.MethodPost, "/admin/tags", adminToken, map[string]string{"name": "Kështjella"}), stdhttp.StatusConflict)

	rec = env.do(t, stdhttp.MethodPost, "/stories", adminToken, env.storyPayload("Rozafa"))
	expectStatus(t, rec, stdhttp.StatusCreated)
	created := decode[story.Detail](t, rec)

	rec = env.do(t, stdhttp.MethodPut, "/admin/stories/"+created.ID+"/tags", adminToken, map[string][]string{"tag_ids": {tag.ID}})
	expectStatus(t, rec, stdhttp.StatusOK)
	if tagged := decode[story.Detail](t, rec); len(tagged.Tags) != 1 || tagged.Tags[0].ID != tag.ID {
		t.Fatalf("expected story to carry the tag, got %+v", tagged.Tags)
	}

	rec = env.do(t, stdhttp.MethodGet, "/stories?tag="+tag.Slug, "", nil)
	if listed := decode[[]story.Detail](t, rec); len(listed) != 1 {
		t.Fatalf("expected one story with the tag, got %d", len(listed))
	}

	expectStatus(t, env.do(t, stdhttp.MethodDelete, "/admin/categories/"+env.category.ID, adminToken, nil), stdhttp.StatusConflict)

	rec = env.do(t, stdhttp.MethodGet, "/stats/categories", "", nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	for _, count := range decode[[]analytics.CategoryCount](t, rec) {
		want := int64(0)
		if count.CategoryID == env.category.ID {
			want = 1
		}
		if count.Published != want {
			t.Fatalf("expected %d published stories in %s, got %d", want, count.Slug, count.Published)
		}
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		expectStatus(t, env.do(t, stdhttp.MethodGet, "/categories", "", nil), stdhttp.StatusOK)
	}

	rec := env.do(t, stdhttp.MethodGet, "/categories", "", nil)
	expectStatus(t, rec, stdhttp.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on rate limited response")
	}

	expectStatus(t, env.do(t, stdhttp.MethodGet, "/categories", "signed-in-token", nil), stdhttp.StatusOK)

	rec = env.do(t, stdhttp.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, stdhttp.StatusOK)
	for _, want := range []string{
		`legjenda_http_rate_limited_total{class="reader"} 1`,
		"legjenda_http_rate_limit_clients 2",
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}
}
