package identity

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"legjenda/app/internal/apperr"
	"legjenda/app/internal/db"
)

// Allowlist is the authorization record consulted for admin verdicts.
type Allowlist struct {
	db     *gorm.DB
	now    func() time.Time
	logger *logrus.Logger
}

// NewAllowlist constructs an allow-list over the admin_allowlist table.
func NewAllowlist(database *gorm.DB, logger *logrus.Logger) (*Allowlist, error) {
	if database == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &Allowlist{db: database, now: time.Now, logger: logger}, nil
}

// WithTx returns a copy bound to tx so grants join the caller's transaction.
func (a *Allowlist) WithTx(tx *gorm.DB) *Allowlist {
	clone := *a
	clone.db = tx
	return &clone
}

// IsAdmin reports whether email is allow-listed. Absence is not an error.
func (a *Allowlist) IsAdmin(ctx context.Context, email string) (bool, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return false, nil
	}

	var count int64
	if err := a.db.WithContext(ctx).Model(&AllowlistEntry{}).Where("email = ?", normalized).Count(&count).Error; err != nil {
		a.logError(logrus.Fields{"email": normalized}, err, "checking admin allow-list")
		return false, apperr.Dependency(err, "checking admin allow-list")
	}

	return count > 0, nil
}

// Grant inserts email into the allow-list. An existing row is left untouched.
func (a *Allowlist) Grant(ctx context.Context, email, grantedBy string) error {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return apperr.Validation("email is required")
	}

	entry := AllowlistEntry{
		Email:     normalized,
		GrantedAt: a.now().UTC(),
		GrantedBy: NormalizeEmail(grantedBy),
	}

	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil && !db.IsUniqueViolation(err) {
		a.logError(logrus.Fields{"email": normalized}, err, "granting admin privileges")
		return apperr.Dependency(err, "granting admin privileges")
	}

	return nil
}

// Revoke removes email from the allow-list and reports whether a row existed.
func (a *Allowlist) Revoke(ctx context.Context, email string) (bool, error) {
	normalized := NormalizeEmail(email)

	result := a.db.WithContext(ctx).Where("email = ?", normalized).Delete(&AllowlistEntry{})
	if result.Error != nil {
		a.logError(logrus.Fields{"email": normalized}, result.Error, "revoking admin privileges")
		return false, apperr.Dependency(result.Error, "revoking admin privileges")
	}

	return result.RowsAffected > 0, nil
}

// List returns every allow-listed email ordered by address.
func (a *Allowlist) List(ctx context.Context) ([]AllowlistEntry, error) {
	var entries []AllowlistEntry
	if err := a.db.WithContext(ctx).Order("email ASC").Find(&entries).Error; err != nil {
		a.logError(nil, err, "listing admin allow-list")
		return nil, apperr.Dependency(err, "listing admin allow-list")
	}

	return entries, nil
}

// Seed grants every configured email. Already present rows are kept.
func (a *Allowlist) Seed(ctx context.Context, emails []string) error {
	for _, email := range emails {
		if NormalizeEmail(email) == "" {
			continue
		}
		if err := a.Grant(ctx, email, "seed"); err != nil {
			return eris.Wrapf(err, "seeding admin %s", email)
		}
	}

	return nil
}

func (a *Allowlist) logError(fields logrus.Fields, err error, message string) {
	if a.logger == nil {
		return
	}

	entry := a.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
