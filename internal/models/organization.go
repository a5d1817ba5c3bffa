package models

import "gorm.io/datatypes"

// Organization owns the API keys that client applications present.
type Organization struct {
	BaseModel

	Name     string         `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Active   bool           `gorm:"not null;default:true" json:"active"`
	Settings datatypes.JSON `json:"settings"`

	APIKeys []OrganizationAPIKey `gorm:"foreignKey:OrganizationID" json:"api_keys,omitempty"`
}
