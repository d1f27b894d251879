// Package adminrequest runs the workflow through which readers ask for admin privileges
// and admins grant or refuse them.
package adminrequest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Decision is an admin's answer to a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// AdminRequest asks for the email to be added to the admin allow-list. At most one pending
// request per email exists at any time.
type AdminRequest struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Email       string     `gorm:"size:320;not null;uniqueIndex:idx_admin_requests_pending_email,where:status = 'pending'" json:"email"`
	Status      Status     `gorm:"size:16;not null;index" json:"status"`
	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ProcessedBy *string    `gorm:"size:320" json:"processed_by,omitempty"`
}

func (AdminRequest) TableName() string {
	return "admin_requests"
}

// Migrate applies the admin request schema.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	if err := db.WithContext(ctx).AutoMigrate(&AdminRequest{}); err != nil {
		if logger != nil {
			logger.WithField("component", "adminrequest.migrate").WithField("error", err.Error()).Error("admin request schema migration failed")
		}
		return eris.Wrap(err, "auto migrating admin request schema")
	}

	return nil
}
