package identity

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// User is a locally registered account.
type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"size:320;uniqueIndex:idx_users_email;not null"`
	PasswordHash string    `gorm:"not null"`
	FullName     string    `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string {
	return "users"
}

// RevokedSession marks a signed-out token id until the token would have expired anyway.
type RevokedSession struct {
	SessionID string    `gorm:"primaryKey;size:36"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (RevokedSession) TableName() string {
	return "revoked_sessions"
}

// AllowlistEntry grants admin privileges to an email address.
type AllowlistEntry struct {
	Email     string    `gorm:"primaryKey;size:320" json:"email"`
	GrantedAt time.Time `gorm:"not null" json:"granted_at"`
	GrantedBy string    `gorm:"size:320" json:"granted_by"`
}

func (AllowlistEntry) TableName() string {
	return "admin_allowlist"
}

// Migrate applies the identity schema.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "identity.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying identity schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&User{}, &RevokedSession{}, &AllowlistEntry{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("identity schema migration failed")
		}
		return eris.Wrap(err, "auto migrating identity schema")
	}

	return nil
}
