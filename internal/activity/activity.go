// Package activity keeps the append-only audit trail of moderation and content changes.
package activity

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/identity"
)

const (
	DefaultListLimit = 200
	maxListLimit     = 1000
)

// Entry is one audit row. Rows are never updated or deleted.
type Entry struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time      `gorm:"index;not null" json:"created_at"`
	Action     string         `gorm:"size:64;index;not null" json:"action"`
	EntityType string         `gorm:"size:64;not null" json:"entity_type"`
	EntityID   string         `gorm:"size:64;index" json:"entity_id"`
	ActorEmail string         `gorm:"size:320" json:"actor_email,omitempty"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
}

func (Entry) TableName() string {
	return "activity_log"
}

// Event describes an action to record. Payload is marshalled to JSON.
type Event struct {
	Action     string
	EntityType string
	EntityID   string
	Actor      string
	Payload    any
}

// Authorizer gates reads of the log.
type Authorizer interface {
	RequireAdmin(ctx context.Context) (*identity.Identity, error)
}

// Log appends and lists audit entries.
type Log struct {
	db        *gorm.DB
	auth      Authorizer
	now       func() time.Time
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

// NewLog constructs the activity log.
func NewLog(database *gorm.DB, auth Authorizer, logger *logrus.Logger, hub *sentry.Hub) (*Log, error) {
	if database == nil {
		return nil, eris.New("gorm DB is required")
	}
	if auth == nil {
		return nil, eris.New("authorizer is required")
	}

	return &Log{db: database, auth: auth, now: time.Now, logger: logger, sentryHub: hub}, nil
}

// WithTx returns a copy whose writes join tx.
func (l *Log) WithTx(tx *gorm.DB) *Log {
	clone := *l
	clone.db = tx
	return &clone
}

// Record appends one entry. Callers that mutate state pass a transaction-bound log so the
// entry commits or rolls back with the mutation.
func (l *Log) Record(ctx context.Context, event Event) error {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return eris.New("activity action is required")
	}

	var payload datatypes.JSON
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return eris.Wrapf(err, "marshalling payload for %s", action)
		}
		payload = datatypes.JSON(raw)
	}

	entry := Entry{
		ID:         uuid.NewString(),
		CreatedAt:  l.now().UTC(),
		Action:     action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		ActorEmail: identity.NormalizeEmail(event.Actor),
		Payload:    payload,
	}

	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.recordError(logrus.Fields{"action": action, "entity_id": event.EntityID}, err, "appending activity entry")
		return apperr.Dependency(err, "appending activity entry")
	}

	return nil
}

// List returns the newest entries first. Admin only.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if _, err := l.auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var entries []Entry
	if err := l.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		l.recordError(nil, err, "listing activity entries")
		return nil, apperr.Dependency(err, "listing activity entries")
	}

	return entries, nil
}

// Migrate applies the activity schema.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		if logger != nil {
			logger.WithField("component", "activity.migrate").WithField("error", err.Error()).Error("activity schema migration failed")
		}
		return eris.Wrap(err, "auto migrating activity schema")
	}

	return nil
}

func (l *Log) recordError(fields logrus.Fields, err error, message string) {
	if l.logger != nil {
		l.logger.WithFields(fields).WithField("error", err.Error()).Error(message)
	}

	if l.sentryHub != nil {
		l.sentryHub.CaptureException(err)
	}
}
