package taxonomy

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
	"legjenda/app/internal/identity"
)

type stubAuthorizer struct {
	admin bool
	calls int
}

var _ Authorizer = (*stubAuthorizer)(nil)

func (s *stubAuthorizer) RequireAdmin(context.Context) (*identity.Identity, error) {
	s.calls++
	if !s.admin {
		return nil, apperr.Forbidden("admin privileges required")
	}
	return &identity.Identity{ID: "admin", Email: "admin@example.com"}, nil
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	db      *gorm.DB
	auth    *stubAuthorizer
	log     *activity.Log
	service Service
}

func setupService(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	gormDB, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "taxonomy.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(gormDB); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	logger := silentLogger()
	if err := Migrate(ctx, gormDB, logger); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if err := activity.Migrate(ctx, gormDB, logger); err != nil {
		t.Fatalf("activity.Migrate returned error: %v", err)
	}
	if err := gormDB.Exec("CREATE TABLE stories (id TEXT PRIMARY KEY, category_id TEXT)").Error; err != nil {
		t.Fatalf("creating stories table failed: %v", err)
	}

	auth := &stubAuthorizer{admin: true}
	log, err := activity.NewLog(gormDB, auth, logger, nil)
	if err != nil {
		t.Fatalf("activity.NewLog returned error: %v", err)
	}

	service, err := NewService(gormDB, auth, log, logger, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	return &fixture{db: gormDB, auth: auth, log: log, service: service}
}

func actions(t *testing.T, f *fixture) []string {
	t.Helper()

	entries, err := f.log.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("listing activity failed: %v", err)
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Action)
	}
	return out
}

func TestSeedCategoriesIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := setupService(t)

	for i := 0; i < 2; i++ {
		if err := f.service.SeedCategories(ctx); err != nil {
			t.Fatalf("SeedCategories #%d returned error: %v", i+1, err)
		}
	}

	categories, err := f.service.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories returned error: %v", err)
	}
	if len(categories) != 3 {
		t.Fatalf("expected 3 canonical categories, got %d", len(categories))
	}

	category, err := f.service.GetCategoryBySlug(ctx, "historite-tuaja")
	if err != nil {
		t.Fatalf("GetCategoryBySlug returned error: %v", err)
	}
	if category.NameEN != "Your Stories" {
		t.Fatalf("unexpected category %#v", category)
	}

	if _, err := f.service.GetCategoryBySlug(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateCategoryDerivesSlugAndLogsActivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := setupService(t)

	category, err := f.service.CreateCategory(ctx, CategoryInput{NameSQ: " Mitet e Detit ", NameEN: "Sea Myths"})
	if err != nil {
		t.Fatalf("CreateCategory returned error: %v", err)
	}
	if category.Slug != "mitet-e-detit" {
		t.Fatalf("expected derived slug, got %q", category.Slug)
	}

	if _, err := f.service.CreateCategory(ctx, CategoryInput{NameSQ: "Tjetër", NameEN: "Other", Slug: "mitet-e-detit"}); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for duplicate slug, got %v", err)
	}

	if _, err := f.service.CreateCategory(ctx, CategoryInput{NameSQ: "Emër", NameEN: "Name", Slug: "Not Valid"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for malformed slug, got %v", err)
	}

	got := actions(t, f)
	if len(got) != 1 || got[0] != "create_category" {
		t.Fatalf("expected a single create_category entry, got %v", got)
	}
}

func TestCategoryMutationsRequireAdminBeforeSideEffects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := setupService(t)
	f.auth.admin = false

	if _, err := f.service.CreateCategory(ctx, CategoryInput{NameSQ: "A", NameEN: "A"}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.service.CreateTag(ctx, TagInput{Name: "ghost"}); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	var count int64
	if err := f.db.Model(&Category{}).Count(&count).Error; err != nil {
		t.Fatalf("counting categories failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no categories to be created, got %d", count)
	}
}

func TestUpdateCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := setupService(t)

	category, err := f.service.CreateCategory(ctx, CategoryInput{NameSQ: "Vjetër", NameEN: "Old"})
	if err != nil {
		t.Fatalf("CreateCategory returned error: %v", err)
	}

	description := "  Përshkrim  "
	updated, err := f.service.UpdateCategory(ctx, category.ID, CategoryInput{NameSQ: "E Re", NameEN: "New", Slug: "e-re", DescriptionSQ: &description})
	if err != nil {
		t.Fatalf("UpdateCategory returned error: %v", err)
	}
	if updated.Slug != "e-re" || updated.DescriptionSQ == nil || *updated.DescriptionSQ != "Përshkrim" {
		t.Fatalf("unexpected updated category %#v", updated)
	}

	if _, err := f.service.UpdateCategory(ctx, "missing", CategoryInput{NameSQ: "X", NameEN: "X"}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCategoryRefusesWhileReferenced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := setupService(t)

	category, err := f.service.CreateCategory(ctx, CategoryInput{NameSQ: "Përdorur", NameEN: "Used"})
	if err != nil {
		t.Fatalf("CreateCategory returned error: %v", err)
	}

	if err := f.db.Exec("INSERT INTO stories (id, category_id) VALUES (?, ?)", "s1", category.ID).Error; err != nil {
		t.Fatalf("inserting story failed: %v", err)
	}

	if err := f.service.DeleteCategory(ctx, category.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict while referenced, got %v", err)
	}

	if err := f.db.Exec("DELETE FROM stories").Error; err != nil {
		t.Fatalf("deleting story failed: %v", err)
	}

	if err := f.service.DeleteCategory(ctx, category.ID); err != nil {
		t.Fatalf("DeleteCategory returned error: %v", err)
	}
	if err := f.service.DeleteCategory(ctx, category.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	got := actions(t, f)
	if len(got) != 2 || got[0] != "delete_category" {
		t.Fatalf("unexpected activity %v", got)
	}
}

func TestTagLifecycleAndStoryAssociations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := setupService(t)

	ghost, err := f.service.CreateTag(ctx, TagInput{Name: "Fantazmë"})
	if err != nil {
		t.Fatalf("CreateTag returned error: %v", err)
	}
	if ghost.Slug != "fantazme" {
		t.Fatalf("expected derived slug, got %q", ghost.Slug)
	}

	castle, err := f.service.CreateTag(ctx, TagInput{Name: "Kala", Slug: "kala"})
	if err != nil {
		t.Fatalf("CreateTag returned error: %v", err)
	}

	if _, err := f.service.CreateTag(ctx, TagInput{Name: "Kala again", Slug: "kala"}); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for duplicate tag slug, got %v", err)
	}

	if _, err := ReplaceStoryTags(ctx, f.db, "story-1", []string{ghost.ID, castle.ID, ghost.ID}); err != nil {
		t.Fatalf("ReplaceStoryTags returned error: %v", err)
	}

	replaced, err := ReplaceStoryTags(ctx, f.db, "story-1", []string{castle.ID})
	if err != nil {
		t.Fatalf("ReplaceStoryTags returned error: %v", err)
	}
	if len(replaced) != 1 || replaced[0].ID != castle.ID {
		t.Fatalf("expected only castle after replacement, got %#v", replaced)
	}

	if _, err := ReplaceStoryTags(ctx, f.db, "story-1", []string{"unknown"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for unknown tag, got %v", err)
	}

	byStory, err := TagsForStories(ctx, f.db, []string{"story-1", "story-2"})
	if err != nil {
		t.Fatalf("TagsForStories returned error: %v", err)
	}
	if len(byStory["story-1"]) != 1 || len(byStory["story-2"]) != 0 {
		t.Fatalf("unexpected tags by story %#v", byStory)
	}

	if err := f.service.DeleteTag(ctx, castle.ID); err != nil {
		t.Fatalf("DeleteTag returned error: %v", err)
	}

	var remaining int64
	if err := f.db.Model(&StoryTag{}).Count(&remaining).Error; err != nil {
		t.Fatalf("counting story tags failed: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected associations of deleted tag to be removed, got %d", remaining)
	}

	tags, err := f.service.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags returned error: %v", err)
	}
	if len(tags) != 1 || tags[0].ID != ghost.ID {
		t.Fatalf("expected only the ghost tag to remain, got %#v", tags)
	}
}
