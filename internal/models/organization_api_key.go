package models

import "time"

// OrganizationAPIKey stores the lookup prefix and SHA-256 digest of an
// organization key. The plaintext key is never persisted.
type OrganizationAPIKey struct {
	BaseModel

	OrganizationID string        `gorm:"size:36;not null;index" json:"organization_id"`
	Organization   *Organization `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"organization,omitempty"`

	Name      string     `gorm:"size:128;not null" json:"name"`
	Prefix    string     `gorm:"uniqueIndex;size:16;not null" json:"prefix"`
	HashedKey string     `gorm:"size:64;not null" json:"-"`
	Revoked   bool       `gorm:"not null;default:false" json:"revoked"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Usable reports whether the key may authenticate a request at now.
func (k *OrganizationAPIKey) Usable(now time.Time) bool {
	if k.Revoked {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}
