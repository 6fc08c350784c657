package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sentravision/sentra-cloud/internal/edge/domain"
	pkgdb "github.com/sentravision/sentra-cloud/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(db *gorm.DB, genID *snowflake.Node) domain.Repository {
	return &repo{db: db, genID: genID}
}

func (r *repo) FindByEdgeID(ctx context.Context, edgeID string) (*domain.EdgeNode, error) {
	var node domain.EdgeNode
	err := r.db.WithContext(ctx).Where("edge_id = ?", edgeID).First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &node, nil
}

func (r *repo) FindByEdgeKey(ctx context.Context, edgeKey string) (*domain.EdgeNode, error) {
	var node domain.EdgeNode
	err := r.db.WithContext(ctx).Where("edge_key = ?", edgeKey).First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &node, nil
}

func (r *repo) ListOnline(ctx context.Context) ([]domain.EdgeNode, error) {
	var nodes []domain.EdgeNode
	if err := r.db.WithContext(ctx).Where("online = ?", true).Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

func (r *repo) MarkOffline(ctx context.Context, id snowflake.ID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.EdgeNode{}).
		Where("id = ? AND online = ?", id, true).
		Updates(map[string]interface{}{
			"online":     false,
			"updated_at": at,
		}).Error
}

func (r *repo) ConsumeNonce(ctx context.Context, nonce domain.EdgeNonce, retention time.Duration) error {
	if nonce.ID == 0 {
		nonce.ID = r.genID.Generate()
	}
	if err := r.db.WithContext(ctx).Create(&nonce).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.ErrNonceReused
		}
		return err
	}

	// Opportunistic purge keeps the table from growing without a separate
	// janitor process.
	cutoff := nonce.UsedAt.Add(-retention)
	r.db.WithContext(ctx).Where("used_at < ?", cutoff).Delete(&domain.EdgeNonce{})

	return nil
}
