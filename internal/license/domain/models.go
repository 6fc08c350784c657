// Package domain contains license persistence models and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusActive  = "active"
	StatusTrial   = "trial"
	StatusRevoked = "revoked"
)

// License is an organization's entitlement. The unique index on EdgeNodeID
// is what makes concurrent auto-claims safe: at most one node can hold a
// license, enforced by the database rather than check-then-set.
type License struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	EdgeNodeID     *snowflake.ID `gorm:"uniqueIndex" json:"edge_node_id"`

	LicenseKey string         `gorm:"type:text;not null;uniqueIndex" json:"license_key"`
	Status     string         `gorm:"type:text;not null;default:active" json:"status"`
	Plan       string         `gorm:"type:text" json:"plan"`
	MaxCameras int            `gorm:"not null;default:0" json:"max_cameras"`
	Modules    datatypes.JSON `gorm:"type:jsonb" json:"modules"`

	ExpiresAt   *time.Time `json:"expires_at"`
	TrialEndsAt *time.Time `json:"trial_ends_at"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (License) TableName() string { return "licenses" }
