package story

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/apperr"
	"legjenda/app/internal/blob"
	"legjenda/app/internal/db"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/taxonomy"
)

var (
	adminCaller  = &identity.Identity{ID: "admin-1", Email: "admin@example.com"}
	readerCaller = &identity.Identity{ID: "reader-1", Email: "reader@example.com"}
	otherCaller  = &identity.Identity{ID: "reader-2", Email: "other@example.com"}
)

type stubAuthorizer struct {
	verdict identity.Verdict
	calls   int
}

var _ Authorizer = (*stubAuthorizer)(nil)

func (s *stubAuthorizer) as(caller *identity.Identity, admin bool) {
	s.verdict = identity.Verdict{Identity: caller, IsAdmin: admin}
}

func (s *stubAuthorizer) Resolve(context.Context) (identity.Verdict, error) {
	s.calls++
	return s.verdict, nil
}

func (s *stubAuthorizer) RequireIdentity(ctx context.Context) (*identity.Identity, error) {
	verdict, _ := s.Resolve(ctx)
	if verdict.Identity == nil {
		return nil, apperr.Forbidden("sign in required")
	}
	return verdict.Identity, nil
}

func (s *stubAuthorizer) RequireAdmin(ctx context.Context) (*identity.Identity, error) {
	verdict, _ := s.Resolve(ctx)
	if verdict.Identity == nil || !verdict.IsAdmin {
		return nil, apperr.Forbidden("admin privileges required")
	}
	return verdict.Identity, nil
}

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(_ context.Context, _ string, language string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary + " (" + language + ")", nil
}

type stubBlob struct {
	keys         []string
	contentTypes []string
	err          error
}

func (s *stubBlob) Upload(_ context.Context, key, contentType string, _ []byte) (blob.StoredRef, error) {
	s.keys = append(s.keys, key)
	s.contentTypes = append(s.contentTypes, contentType)
	if s.err != nil {
		return blob.StoredRef{}, s.err
	}
	return blob.StoredRef{Key: key, URL: "https://cdn.example.com/" + key}, nil
}

type countingObserver struct {
	transitions map[string]int
}

func (o *countingObserver) ObserveTransition(entity, action string) {
	if o.transitions == nil {
		o.transitions = map[string]int{}
	}
	o.transitions[entity+":"+action]++
}

type clock struct {
	current time.Time
}

// Now advances one second per call so timestamps are strictly ordered.
func (c *clock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

type fixture struct {
	db         *gorm.DB
	auth       *stubAuthorizer
	log        *activity.Log
	summarizer *stubSummarizer
	blob       *stubBlob
	observer   *countingObserver
	service    Service
	category   taxonomy.Category
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	gormDB, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "story.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	logger := silentLogger()
	if err := taxonomy.Migrate(ctx, gormDB, logger); err != nil {
		t.Fatalf("taxonomy.Migrate returned error: %v", err)
	}
	if err := activity.Migrate(ctx, gormDB, logger); err != nil {
		t.Fatalf("activity.Migrate returned error: %v", err)
	}
	if err := Migrate(ctx, gormDB, logger); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	category := taxonomy.Category{ID: "cat-legends", NameSQ: "Legjenda Urbane", NameEN: "Urban Legends", Slug: "legjenda-urbane"}
	if err := gormDB.Create(&category).Error; err != nil {
		t.Fatalf("creating category failed: %v", err)
	}

	auth := &stubAuthorizer{}
	log, err := activity.NewLog(gormDB, auth, logger, nil)
	if err != nil {
		t.Fatalf("activity.NewLog returned error: %v", err)
	}

	f := &fixture{
		db:         gormDB,
		auth:       auth,
		log:        log,
		summarizer: &stubSummarizer{},
		blob:       &stubBlob{},
		observer:   &countingObserver{},
		category:   category,
	}

	c := &clock{current: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	service, err := NewService(Dependencies{
		DB:       gormDB,
		Auth:     auth,
		Activity: log,
		Blob:     f.blob,
		Observer: f.observer,
		Logger:   logger,
		Now:      c.Now,
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	f.service = service

	return f
}

func (f *fixture) completeDraft(title string) Draft {
	categoryID := f.category.ID
	return Draft{
		TitleSQ:    title + " sq",
		TitleEN:    title + " en",
		ContentSQ:  "<p>Një histori e vjetër për " + title + ".</p>",
		ContentEN:  "<p>An old story about " + title + ".</p>",
		CategoryID: &categoryID,
	}
}

// submitPending creates a pending story as a regular reader.
func (f *fixture) submitPending(t *testing.T, title string) *Detail {
	t.Helper()

	f.auth.as(readerCaller, false)
	detail, err := f.service.Submit(context.Background(), f.completeDraft(title))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	return detail
}

// publish creates a story and approves it as admin.
func (f *fixture) publish(t *testing.T, title string) *Detail {
	t.Helper()

	pending := f.submitPending(t, title)
	f.auth.as(adminCaller, true)
	detail, err := f.service.Approve(context.Background(), pending.ID)
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	return detail
}

func (f *fixture) reload(t *testing.T, id string) Story {
	t.Helper()

	var story Story
	if err := f.db.First(&story, "id = ?", id).Error; err != nil {
		t.Fatalf("reloading story %s failed: %v", id, err)
	}
	return story
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()

	var total int64
	if err := f.db.Model(model).Where(query, args...).Count(&total).Error; err != nil {
		t.Fatalf("counting rows failed: %v", err)
	}
	return total
}

func (f *fixture) actions(t *testing.T, entityID string) []string {
	t.Helper()

	var entries []activity.Entry
	if err := f.db.Where("entity_id = ?", entityID).Order("created_at ASC").Find(&entries).Error; err != nil {
		t.Fatalf("loading activity failed: %v", err)
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Action)
	}
	return out
}

// assertPublishedInvariant checks that every published story has a category and a
// publication time.
func (f *fixture) assertPublishedInvariant(t *testing.T) {
	t.Helper()

	broken := f.count(t, &Story{}, "status = ? AND (category_id IS NULL OR published_at IS NULL)", StatusPublished)
	if broken != 0 {
		t.Fatalf("found %d published stories without category or published_at", broken)
	}
}
