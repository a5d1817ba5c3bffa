package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of account events. OrganizationID is the
// organization whose API key carried the request, when one did.
type AuditLog struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	UserID         *string           `gorm:"size:36;index" json:"user_id"`
	OrganizationID *string           `gorm:"size:36;index" json:"organization_id"`
	Username       string            `gorm:"size:150" json:"username"`
	Action         string            `gorm:"size:64;not null;index" json:"action"`
	Result         string            `gorm:"size:16;not null" json:"result"`
	IPAddress      string            `gorm:"size:64" json:"ip_address"`
	UserAgent      string            `json:"user_agent"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	a.ID = ensureID(a.ID)
	return nil
}
