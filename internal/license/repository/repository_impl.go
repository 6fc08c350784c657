package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/sentravision/sentra-cloud/internal/license/domain"
	pkgdb "github.com/sentravision/sentra-cloud/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &lic, nil
}

func (r *repo) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).Where("license_key = ?", key).First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &lic, nil
}

func (r *repo) FindByKeyForOrganization(ctx context.Context, key string, orgID snowflake.ID) (*domain.License, error) {
	var lic domain.License
	err := r.db.WithContext(ctx).
		Where("license_key = ? AND organization_id = ?", key, orgID).
		First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &lic, nil
}

func (r *repo) Claim(ctx context.Context, licenseID, edgeNodeID snowflake.ID) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE licenses
		 SET edge_node_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND (edge_node_id IS NULL OR edge_node_id = ?)`,
		edgeNodeID, licenseID, edgeNodeID,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return domain.ErrAlreadyBound
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyBound
	}
	return nil
}

func (r *repo) ClaimFirstAvailable(ctx context.Context, orgID, edgeNodeID snowflake.ID) (*domain.License, error) {
	// The guarded UPDATE plus the unique index on edge_node_id keep two
	// concurrent heartbeats from claiming the same license.
	var candidate domain.License
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND status = ? AND edge_node_id IS NULL", orgID, domain.StatusActive).
		Order("created_at ASC").
		First(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNoneAvailable
		}
		return nil, err
	}

	res := r.db.WithContext(ctx).Exec(
		`UPDATE licenses
		 SET edge_node_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND edge_node_id IS NULL`,
		edgeNodeID, candidate.ID,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return nil, domain.ErrNoneAvailable
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race; the caller treats this the same as no license.
		return nil, domain.ErrNoneAvailable
	}

	candidate.EdgeNodeID = &edgeNodeID
	return &candidate, nil
}

func (r *repo) Release(ctx context.Context, edgeNodeID snowflake.ID, keep *snowflake.ID) error {
	stmt := r.db.WithContext(ctx).Model(&domain.License{}).
		Where("edge_node_id = ?", edgeNodeID)
	if keep != nil {
		stmt = stmt.Where("id <> ?", *keep)
	}
	return stmt.Update("edge_node_id", nil).Error
}
