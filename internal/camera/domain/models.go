package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var ErrNotFound = errors.New("camera_not_found")

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusDeleted = "deleted"
)

type Camera struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrganizationID snowflake.ID      `json:"organization_id" gorm:"index"`
	EdgeNodeID     *snowflake.ID     `json:"edge_node_id" gorm:"index"`
	CameraID       string            `json:"camera_id" gorm:"uniqueIndex;size:64"`
	Name           string            `json:"name" gorm:"size:255"`
	Location       string            `json:"location" gorm:"size:255"`
	RtspURL        string            `json:"rtsp_url" gorm:"size:512"`
	Status         string            `json:"status" gorm:"size:32;default:offline"`
	Config         datatypes.JSONMap `json:"config" gorm:"type:jsonb"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Camera) TableName() string { return "cameras" }

// View is the camera shape handed to edge nodes. Credentials never leave
// the cloud in clear text; the password is masked when present.
type View struct {
	ID         int64      `json:"id"`
	CameraID   string     `json:"camera_id"`
	Name       string     `json:"name"`
	Location   string     `json:"location"`
	RtspURL    string     `json:"rtsp_url"`
	Status     string     `json:"status"`
	EdgeNodeID *int64     `json:"edge_node_id"`
	Config     ViewConfig `json:"config"`
}

type ViewConfig struct {
	Username       *string  `json:"username"`
	Password       *string  `json:"password"`
	Resolution     string   `json:"resolution"`
	FPS            int      `json:"fps"`
	EnabledModules []string `json:"enabled_modules"`
}

type Repository interface {
	FindByCameraID(ctx context.Context, orgID snowflake.ID, cameraID string) (*Camera, error)
	ListForEdge(ctx context.Context, orgID, edgeNodeID snowflake.ID) ([]Camera, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status string) error
}
