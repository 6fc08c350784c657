package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	cameradomain "github.com/sentravision/sentra-cloud/internal/camera/domain"
	"github.com/sentravision/sentra-cloud/internal/clock"
	eventdomain "github.com/sentravision/sentra-cloud/internal/event/domain"
	"github.com/sentravision/sentra-cloud/internal/monitoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       domain.Repository
	CameraRepo cameradomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.Repository
	cameraRepo cameradomain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("monitoring.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		cameraRepo: p.CameraRepo,
	}
}

// Evaluate runs one enterprise event through the scenario catalog: scenario
// and binding lookup, weighted scoring, threshold, cooldown, then emit. Any
// miss short-circuits to (nil, nil) so callers treat the event as consumed.
func (s *Service) Evaluate(ctx context.Context, in domain.Input, orgID, edgeNodeID snowflake.ID) (*domain.Alert, error) {
	if in.Module == "" || in.Scenario == "" || in.CameraID == "" {
		s.log.Warn("enterprise event missing required fields",
			zap.Int64("organization_id", orgID.Int64()),
			zap.String("module", in.Module),
			zap.String("scenario", in.Scenario))
		return nil, nil
	}

	scenario, err := s.repo.FindScenario(ctx, orgID, in.Module, in.Scenario)
	if err != nil {
		return nil, err
	}
	if scenario == nil {
		s.log.Debug("scenario not found or disabled",
			zap.Int64("organization_id", orgID.Int64()),
			zap.String("module", in.Module),
			zap.String("scenario", in.Scenario))
		return nil, nil
	}

	camera, err := s.cameraRepo.FindByCameraID(ctx, orgID, in.CameraID)
	if err != nil {
		if errors.Is(err, cameradomain.ErrNotFound) {
			s.log.Warn("camera not found",
				zap.Int64("organization_id", orgID.Int64()),
				zap.String("camera_id", in.CameraID))
			return nil, nil
		}
		return nil, err
	}

	binding, err := s.repo.FindBinding(ctx, camera.ID, scenario.ID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		s.log.Debug("camera not bound to scenario",
			zap.Int64("camera_id", camera.ID.Int64()),
			zap.Int64("scenario_id", scenario.ID.Int64()))
		return nil, nil
	}

	rules, err := s.repo.RulesFor(ctx, scenario.ID)
	if err != nil {
		return nil, err
	}

	score := Score(rules, in.RiskSignals, in.Confidence)
	if score < scenario.SeverityThreshold {
		s.log.Debug("risk score below threshold",
			zap.Int("risk_score", score),
			zap.Int("threshold", scenario.SeverityThreshold))
		return nil, nil
	}

	riskLevel := RiskLevel(score)
	policy, err := s.repo.FindPolicy(ctx, orgID, riskLevel)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		s.log.Warn("alert policy not found",
			zap.Int64("organization_id", orgID.Int64()),
			zap.String("risk_level", riskLevel))
		return nil, nil
	}

	now := s.clock.Now()
	if policy.CooldownMinutes > 0 {
		since := now.Add(-time.Duration(policy.CooldownMinutes) * time.Minute)
		recent, err := s.repo.HasRecentAlert(ctx, orgID, in.CameraID, scenario.ID, since, now)
		if err != nil {
			return nil, err
		}
		if recent {
			s.log.Debug("alert suppressed by cooldown",
				zap.Int64("scenario_id", scenario.ID.Int64()),
				zap.String("camera_id", in.CameraID))
			return nil, nil
		}
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	scenarioID := scenario.ID
	cameraID := in.CameraID
	module := in.Module
	event := &eventdomain.Event{
		ID:             s.genID.Generate(),
		OrganizationID: orgID,
		EdgeNodeID:     edgeNodeID,
		EventType:      in.Scenario,
		AIModule:       &module,
		Severity:       severityFor(riskLevel),
		RiskScore:      &score,
		ScenarioID:     &scenarioID,
		Title:          scenario.Name,
		Description:    describeAlert(scenario, in.RiskSignals, score),
		CameraID:       &cameraID,
		OccurredAt:     occurredAt,
		Meta: datatypes.JSONMap{
			"module":          in.Module,
			"scenario":        in.Scenario,
			"scenario_id":     scenario.ID.Int64(),
			"risk_signals":    in.RiskSignals,
			"confidence":      in.Confidence,
			"risk_level":      riskLevel,
			"alert_policy_id": policy.ID.Int64(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}

	return &domain.Alert{
		EventID:        event.ID,
		OrganizationID: orgID,
		ScenarioID:     scenario.ID,
		ScenarioName:   scenario.Name,
		RiskLevel:      riskLevel,
		RiskScore:      score,
		CameraID:       in.CameraID,
		Policy:         *policy,
	}, nil
}

func severityFor(riskLevel string) string {
	switch riskLevel {
	case domain.RiskCritical:
		return eventdomain.SeverityCritical
	case domain.RiskHigh:
		return eventdomain.SeverityHigh
	default:
		return eventdomain.SeverityMedium
	}
}

func describeAlert(scenario *domain.Scenario, signals map[string]interface{}, score int) string {
	desc := scenario.Description
	desc += fmt.Sprintf("\n\nRisk Score: %d/100", score)
	if len(signals) > 0 {
		desc += "\n\nDetected Signals:"
		for signalType, signalData := range signals {
			desc += fmt.Sprintf("\n- %s: %v", signalType, signalData)
		}
	}
	return desc
}
