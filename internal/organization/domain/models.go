package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var ErrNotFound = errors.New("organization_not_found")

type Organization struct {
	ID                 snowflake.ID      `json:"id" gorm:"primaryKey"`
	Name               string            `json:"name" gorm:"size:255"`
	NotificationConfig datatypes.JSONMap `json:"notification_config" gorm:"type:jsonb"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (Organization) TableName() string { return "organizations" }

// Entitlements answers whether an organization may use an analytics module.
// Entitlement flows from the modules list on the edge node's bound license.
type Entitlements interface {
	IsModuleEnabled(ctx context.Context, orgID snowflake.ID, licenseID *snowflake.ID, module string) (bool, error)
}

type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
}
