package db

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T, opts Options) *gorm.DB {
	t.Helper()

	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "legjenda.db")
	}

	database, err := Open(opts)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := Close(database); closeErr != nil {
			t.Errorf("closing database failed: %v", closeErr)
		}
	})

	return database
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{})
	if err == nil {
		t.Fatalf("expected error when no path supplied")
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{Driver: DriverPostgres})
	if err == nil || !strings.Contains(err.Error(), "dsn is required") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{Driver: "mysql", Path: "ignored.db"})
	if err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenAppliesPragmasWithDefaultTimeout(t *testing.T) {
	t.Parallel()

	database := openTestDB(t, Options{})

	var foreignKeys int
	if queryErr := database.Raw("PRAGMA foreign_keys;").Scan(&foreignKeys).Error; queryErr != nil {
		t.Fatalf("querying foreign_keys pragma failed: %v", queryErr)
	}
	if foreignKeys != 1 {
		t.Fatalf("expected foreign keys pragma to be enabled, got %d", foreignKeys)
	}

	var journalMode string
	if queryErr := database.Raw("PRAGMA journal_mode;").Scan(&journalMode).Error; queryErr != nil {
		t.Fatalf("querying journal_mode pragma failed: %v", queryErr)
	}
	if !strings.EqualFold(strings.TrimSpace(journalMode), "wal") {
		t.Fatalf("expected journal mode WAL, got %q", journalMode)
	}

	var busyTimeout int
	if queryErr := database.Raw("PRAGMA busy_timeout;").Scan(&busyTimeout).Error; queryErr != nil {
		t.Fatalf("querying busy_timeout pragma failed: %v", queryErr)
	}

	expectedTimeout := int((5 * time.Second) / time.Millisecond)
	if busyTimeout != expectedTimeout {
		t.Fatalf("expected busy timeout %d, got %d", expectedTimeout, busyTimeout)
	}
}

func TestOpenHonoursBusyTimeoutAndConnectionLimits(t *testing.T) {
	t.Parallel()

	opts := Options{
		Path:         filepath.Join(t.TempDir(), "legjenda_custom.db"),
		BusyTimeout:  1500 * time.Millisecond,
		MaxOpenConns: 7,
		MaxIdleConns: 3,
		ConnMaxIdle:  2 * time.Second,
		ConnMaxLife:  5 * time.Second,
	}

	database := openTestDB(t, opts)

	var busyTimeout int
	if queryErr := database.Raw("PRAGMA busy_timeout;").Scan(&busyTimeout).Error; queryErr != nil {
		t.Fatalf("querying busy_timeout pragma failed: %v", queryErr)
	}

	expectedTimeout := int(opts.BusyTimeout / time.Millisecond)
	if busyTimeout != expectedTimeout {
		t.Fatalf("expected busy timeout %d, got %d", expectedTimeout, busyTimeout)
	}

	sqlDB, err := SQLDB(database)
	if err != nil {
		t.Fatalf("SQLDB returned error: %v", err)
	}

	if stats := sqlDB.Stats(); stats.MaxOpenConnections != opts.MaxOpenConns {
		t.Fatalf("expected MaxOpenConns %d, got %d", opts.MaxOpenConns, stats.MaxOpenConnections)
	}
}

type uniqueRow struct {
	ID    uint   `gorm:"primaryKey"`
	Email string `gorm:"uniqueIndex"`
}

func TestIsUniqueViolationDetectsTranslatedErrors(t *testing.T) {
	t.Parallel()

	database := openTestDB(t, Options{})
	if err := database.AutoMigrate(&uniqueRow{}); err != nil {
		t.Fatalf("migrating test table failed: %v", err)
	}

	if err := database.Create(&uniqueRow{Email: "a@example.com"}).Error; err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := database.Create(&uniqueRow{Email: "a@example.com"}).Error
	if err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	if !IsUniqueViolation(eris.Wrap(err, "inserting row")) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	t.Parallel()

	if IsUniqueViolation(nil) {
		t.Fatalf("nil must not be a unique violation")
	}

	if IsUniqueViolation(errors.New("disk full")) {
		t.Fatalf("unrelated error must not be a unique violation")
	}

	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: users.email")) {
		t.Fatalf("expected raw sqlite message to be recognised")
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	if !IsNotFound(eris.Wrap(gorm.ErrRecordNotFound, "loading story")) {
		t.Fatalf("expected wrapped record-not-found to be detected")
	}

	if IsNotFound(errors.New("other")) {
		t.Fatalf("unexpected not-found match")
	}
}

func TestSQLDBWithNilDatabase(t *testing.T) {
	t.Parallel()

	_, err := SQLDB(nil)
	if err == nil {
		t.Fatalf("expected error when database is nil")
	}
}
