package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/sentravision/sentra-cloud/internal/event/domain"
	"github.com/sentravision/sentra-cloud/internal/monitoring/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) FindScenario(ctx context.Context, orgID snowflake.ID, module, scenarioType string) (*domain.Scenario, error) {
	var sc domain.Scenario
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND module = ? AND scenario_type = ? AND enabled = ?", orgID, module, scenarioType, true).
		First(&sc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sc, nil
}

func (r *repo) RulesFor(ctx context.Context, scenarioID snowflake.ID) ([]domain.ScenarioRule, error) {
	var rules []domain.ScenarioRule
	err := r.db.WithContext(ctx).
		Where("scenario_id = ? AND enabled = ?", scenarioID, true).
		Order("rule_order").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) FindBinding(ctx context.Context, cameraID, scenarioID snowflake.ID) (*domain.CameraBinding, error) {
	var b domain.CameraBinding
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND scenario_id = ? AND enabled = ?", cameraID, scenarioID, true).
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repo) FindPolicy(ctx context.Context, orgID snowflake.ID, riskLevel string) (*domain.AlertPolicy, error) {
	var p domain.AlertPolicy
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND risk_level = ?", orgID, riskLevel).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repo) HasRecentAlert(ctx context.Context, orgID snowflake.ID, cameraID string, scenarioID snowflake.ID, since, until time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&eventdomain.Event{}).
		Where("organization_id = ? AND camera_id = ? AND scenario_id = ? AND occurred_at >= ? AND occurred_at <= ?",
			orgID, cameraID, scenarioID, since, until).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
