package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	"github.com/sentravision/sentra-cloud/internal/event/domain"
	monitoringdomain "github.com/sentravision/sentra-cloud/internal/monitoring/domain"
	"github.com/sentravision/sentra-cloud/internal/notifier"
	orgdomain "github.com/sentravision/sentra-cloud/internal/organization/domain"
	"github.com/sentravision/sentra-cloud/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// moduleNames maps analytics module keys to the names shown in
// notifications.
var moduleNames = map[string]string{
	"face":       "Face Recognition",
	"counter":    "People Counter",
	"fire":       "Fire Detection",
	"intrusion":  "Intrusion Detection",
	"vehicle":    "Vehicle Recognition",
	"attendance": "Attendance",
	"loitering":  "Loitering Detection",
	"crowd":      "Crowd Detection",
	"object":     "Object Detection",
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	GenID        *snowflake.Node
	Entitlements orgdomain.Entitlements
	Monitoring   monitoringdomain.Service
	Notifier     notifier.Notifier
	Metrics      *telemetry.Metrics `optional:"true"`
	EdgeCfg      *config.EdgeConfigHolder
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	entitlements orgdomain.Entitlements
	monitoring   monitoringdomain.Service
	notifier     notifier.Notifier
	metrics      *telemetry.Metrics
	edgeCfg      *config.EdgeConfigHolder
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("event.service"),
		clock:        p.Clock,
		genID:        p.GenID,
		entitlements: p.Entitlements,
		monitoring:   p.Monitoring,
		notifier:     p.Notifier,
		metrics:      p.Metrics,
		edgeCfg:      p.EdgeCfg,
	}
}

// meta is the typed slice of an ingest payload's meta blob the pipeline
// actually reads; everything else stays opaque.
type meta struct {
	Module      string
	RiskScore   *int
	Scenario    string
	RiskSignals map[string]interface{}
	Confidence  float64
}

func extractMeta(raw map[string]interface{}) meta {
	var m meta
	if raw == nil {
		return m
	}
	m.Module, _ = raw["module"].(string)
	if v, ok := raw["risk_score"].(float64); ok {
		score := int(v)
		m.RiskScore = &score
	}
	m.Scenario, _ = raw["scenario"].(string)
	m.RiskSignals, _ = raw["risk_signals"].(map[string]interface{})
	if v, ok := raw["confidence"].(float64); ok {
		m.Confidence = v
	}
	return m
}

func (s *Service) Ingest(ctx context.Context, edge *edgedomain.EdgeNode, req domain.IngestRequest) (*domain.IngestResult, error) {
	m := extractMeta(req.Meta)

	if m.Module != "" {
		enabled, err := s.entitlements.IsModuleEnabled(ctx, edge.OrganizationID, edge.LicenseID, m.Module)
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, domain.ErrModuleDisabled
		}
	}

	if s.isEnterprise(m, req.Meta) {
		alert, err := s.evaluate(ctx, edge, req, m)
		if err != nil {
			return nil, err
		}
		result := &domain.IngestResult{Evaluated: true, AlertGenerated: alert != nil}
		if alert != nil {
			id := alert.EventID.Int64()
			result.EventID = &id
			s.fanOut(ctx, alert)
		}
		return result, nil
	}

	event, err := s.createStandard(ctx, s.db, edge, req, m)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveEventIngested(event.Severity)

	if req.Severity == domain.SeverityCritical || req.Severity == domain.SeverityWarning {
		s.notifyStandard(ctx, edge, event, m)
	}

	id := event.ID.Int64()
	return &domain.IngestResult{EventID: &id}, nil
}

// BatchIngest lands up to the configured maximum of events behind one
// signature. The batch runs in one outer transaction; each item commits or
// rolls back its own savepoint so one bad row cannot sink its neighbors.
func (s *Service) BatchIngest(ctx context.Context, edge *edgedomain.EdgeNode, req domain.BatchRequest) (*domain.BatchResult, error) {
	maxEvents := s.edgeCfg.Get().BatchMaxEvents
	if len(req.Events) == 0 {
		return nil, domain.ErrBatchEmpty
	}
	if len(req.Events) > maxEvents {
		return nil, domain.ErrBatchTooLarge
	}

	result := &domain.BatchResult{
		Events: []domain.BatchCreated{},
		Errors: []domain.BatchError{},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, item := range req.Events {
			s.processBatchItem(ctx, tx, edge, i, item, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	status := "ok"
	if result.Failed > 0 {
		status = "partial"
	}
	s.metrics.ObserveBatch(status, len(req.Events))
	return result, nil
}

func (s *Service) processBatchItem(ctx context.Context, tx *gorm.DB, edge *edgedomain.EdgeNode, index int, item domain.IngestRequest, result *domain.BatchResult) {
	if err := validateItem(item); err != nil {
		result.Failed++
		result.Errors = append(result.Errors, domain.BatchError{
			Index:   index,
			Error:   "validation_failed",
			Message: err.Error(),
		})
		return
	}

	m := extractMeta(item.Meta)

	if m.Module != "" {
		enabled, entErr := s.entitlements.IsModuleEnabled(ctx, edge.OrganizationID, edge.LicenseID, m.Module)
		if entErr != nil || !enabled {
			result.Failed++
			result.Errors = append(result.Errors, domain.BatchError{
				Index:  index,
				Error:  "module_disabled",
				Module: m.Module,
			})
			return
		}
	}

	if s.isEnterprise(m, item.Meta) {
		alert, evalErr := s.evaluate(ctx, edge, item, m)
		if evalErr != nil {
			s.log.Error("batch enterprise evaluation failed",
				zap.Int("index", index),
				zap.Error(evalErr))
			result.Failed++
			result.Errors = append(result.Errors, domain.BatchError{
				Index:   index,
				Error:   "processing_failed",
				Message: evalErr.Error(),
			})
			return
		}
		if alert != nil {
			s.fanOut(ctx, alert)
		}
		result.Evaluated++
		return
	}

	// Savepoint per item: a failed insert rolls back alone while the
	// surrounding transaction stays healthy.
	var event *domain.Event
	err := tx.Transaction(func(itemTx *gorm.DB) error {
		var createErr error
		event, createErr = s.createStandard(ctx, itemTx, edge, item, m)
		return createErr
	})
	if err != nil {
		s.log.Error("batch event insert failed",
			zap.Int("index", index),
			zap.Error(err))
		result.Failed++
		result.Errors = append(result.Errors, domain.BatchError{
			Index:   index,
			Error:   "processing_failed",
			Message: err.Error(),
		})
		return
	}

	s.metrics.ObserveEventIngested(event.Severity)
	result.Created++
	result.Events = append(result.Events, domain.BatchCreated{
		EventID:   event.ID.Int64(),
		EventType: event.EventType,
		AIModule:  event.AIModule,
	})
}

func validateItem(item domain.IngestRequest) error {
	if item.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	switch item.Severity {
	case domain.SeverityInfo, domain.SeverityWarning, domain.SeverityCritical:
	default:
		return fmt.Errorf("severity must be one of info, warning, critical")
	}
	return nil
}

// isEnterprise reports whether the event routes through the scoring engine:
// an enterprise module plus a scenario and risk signals.
func (s *Service) isEnterprise(m meta, raw map[string]interface{}) bool {
	if m.Scenario == "" || raw == nil {
		return false
	}
	if _, ok := raw["risk_signals"]; !ok {
		return false
	}
	for _, mod := range s.edgeCfg.Get().EnterpriseModules {
		if mod == m.Module {
			return true
		}
	}
	return false
}

func (s *Service) evaluate(ctx context.Context, edge *edgedomain.EdgeNode, req domain.IngestRequest, m meta) (*monitoringdomain.Alert, error) {
	cameraID := ""
	if req.CameraID != nil {
		cameraID = *req.CameraID
	}
	occurredAt := s.clock.Now()
	if !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.Time
	}
	return s.monitoring.Evaluate(ctx, monitoringdomain.Input{
		Module:      m.Module,
		Scenario:    m.Scenario,
		CameraID:    cameraID,
		RiskSignals: m.RiskSignals,
		Confidence:  m.Confidence,
		OccurredAt:  occurredAt,
	}, edge.OrganizationID, edge.ID)
}

func (s *Service) createStandard(ctx context.Context, db *gorm.DB, edge *edgedomain.EdgeNode, req domain.IngestRequest, m meta) (*domain.Event, error) {
	now := s.clock.Now()
	occurredAt := now
	if !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.Time
	}

	eventMeta := datatypes.JSONMap{}
	for k, v := range req.Meta {
		eventMeta[k] = v
	}
	if req.CameraID != nil {
		eventMeta["camera_id"] = *req.CameraID
	}

	var module *string
	if m.Module != "" {
		module = &m.Module
	}

	event := &domain.Event{
		ID:             s.genID.Generate(),
		OrganizationID: edge.OrganizationID,
		EdgeNodeID:     edge.ID,
		EdgeID:         edge.EdgeID,
		EventType:      req.EventType,
		AIModule:       module,
		Severity:       req.Severity,
		RiskScore:      m.RiskScore,
		CameraID:       req.CameraID,
		OccurredAt:     occurredAt,
		Meta:           eventMeta,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

// fanOut dispatches an alert along the channels its policy enables. The web
// channel needs no work here, the event row itself feeds the web feed.
func (s *Service) fanOut(ctx context.Context, alert *monitoringdomain.Alert) {
	s.metrics.ObserveAlert(alert.RiskLevel)

	if alert.Policy.NotifyMobile {
		title := alert.ScenarioName
		if title == "" {
			title = "Enterprise Monitoring Alert"
		}
		body := fmt.Sprintf("Risk Level: %s | Score: %d/100",
			strings.ToUpper(alert.RiskLevel), alert.RiskScore)
		err := s.notifier.SendToOrganization(ctx, alert.OrganizationID, title, body, map[string]interface{}{
			"type":        "enterprise_alert",
			"event_id":    alert.EventID.Int64(),
			"scenario_id": alert.ScenarioID.Int64(),
			"risk_level":  alert.RiskLevel,
			"risk_score":  alert.RiskScore,
			"camera_id":   alert.CameraID,
		}, notifier.PriorityHigh)
		if err != nil {
			s.log.Error("enterprise alert notification failed",
				zap.Int64("event_id", alert.EventID.Int64()),
				zap.Error(err))
		}
	}
	if alert.Policy.NotifyEmail {
		s.log.Info("email notification requested",
			zap.Int64("event_id", alert.EventID.Int64()))
	}
	if alert.Policy.NotifySMS {
		s.log.Info("sms notification requested",
			zap.Int64("event_id", alert.EventID.Int64()))
	}
}

func (s *Service) notifyStandard(ctx context.Context, edge *edgedomain.EdgeNode, event *domain.Event, m meta) {
	moduleName := moduleNames[m.Module]
	if moduleName == "" {
		if m.Module != "" {
			moduleName = strings.ToUpper(m.Module[:1]) + m.Module[1:]
		} else {
			moduleName = "AI Detection"
		}
	}

	cameraID := "unknown"
	if event.CameraID != nil {
		cameraID = *event.CameraID
	}

	priority := notifier.PriorityNormal
	if event.Severity == domain.SeverityCritical {
		priority = notifier.PriorityHigh
	}

	data := map[string]interface{}{
		"type":       "ai_event",
		"event_id":   event.ID.Int64(),
		"event_type": event.EventType,
		"ai_module":  m.Module,
		"severity":   event.Severity,
		"camera_id":  event.CameraID,
		"risk_score": event.RiskScore,
	}

	title := fmt.Sprintf("%s Alert - %s", moduleName, strings.ToUpper(event.Severity))
	body := fmt.Sprintf("%s detected on camera %s", moduleName, cameraID)
	if err := s.notifier.SendToOrganization(ctx, edge.OrganizationID, title, body, data, priority); err != nil {
		s.log.Error("event notification failed",
			zap.Int64("event_id", event.ID.Int64()),
			zap.Error(err))
	}
}
