package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/sentravision/sentra-cloud/internal/camera/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) FindByCameraID(ctx context.Context, orgID snowflake.ID, cameraID string) (*domain.Camera, error) {
	var cam domain.Camera
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND camera_id = ?", orgID, cameraID).
		First(&cam).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &cam, nil
}

func (r *repo) ListForEdge(ctx context.Context, orgID, edgeNodeID snowflake.ID) ([]domain.Camera, error) {
	var cams []domain.Camera
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND edge_node_id = ? AND status <> ?", orgID, edgeNodeID, domain.StatusDeleted).
		Order("name").
		Find(&cams).Error
	if err != nil {
		return nil, err
	}
	return cams, nil
}

func (r *repo) UpdateStatus(ctx context.Context, id snowflake.ID, status string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Camera{}).
		Where("id = ?", id).
		Update("status", status).Error
}
