// Package domain holds the scenario catalog driving enterprise risk scoring.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Risk levels, ordered. Scores of 85 and up are critical, 70 and up high,
// everything at or above a scenario's threshold but below 70 is medium.
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
)

// Rule types a scenario may weigh.
const (
	RuleDuration      = "duration"
	RuleLocation      = "location"
	RulePattern       = "pattern"
	RuleDetection     = "detection"
	RuleProximity     = "proximity"
	RuleCount         = "count"
	RuleActivity      = "activity"
	RuleAuthorization = "authorization"
)

// Scenario is one monitored situation, e.g. "object picked and not
// returned" on the market module.
type Scenario struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrganizationID    snowflake.ID      `json:"organization_id" gorm:"uniqueIndex:idx_scenario_org_module_type"`
	Module            string            `json:"module" gorm:"size:32;uniqueIndex:idx_scenario_org_module_type"`
	ScenarioType      string            `json:"scenario_type" gorm:"size:64;uniqueIndex:idx_scenario_org_module_type"`
	Name              string            `json:"name" gorm:"size:255"`
	Description       string            `json:"description" gorm:"type:text"`
	Enabled           bool              `json:"enabled" gorm:"not null;default:true"`
	SeverityThreshold int               `json:"severity_threshold" gorm:"not null;default:70"`
	Config            datatypes.JSONMap `json:"config" gorm:"type:jsonb"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (Scenario) TableName() string { return "ai_scenarios" }

// ScenarioRule is one weighted signal check within a scenario.
type ScenarioRule struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ScenarioID snowflake.ID      `json:"scenario_id" gorm:"index"`
	RuleType   string            `json:"rule_type" gorm:"size:32"`
	RuleValue  datatypes.JSONMap `json:"rule_value" gorm:"type:jsonb"`
	Weight     int               `json:"weight" gorm:"not null;default:10"`
	Enabled    bool              `json:"enabled" gorm:"not null;default:true"`
	Order      int               `json:"order" gorm:"column:rule_order;not null;default:0"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (ScenarioRule) TableName() string { return "ai_scenario_rules" }

// CameraBinding enables a scenario on a specific camera.
type CameraBinding struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	CameraID   snowflake.ID      `json:"camera_id" gorm:"uniqueIndex:idx_binding_camera_scenario"`
	ScenarioID snowflake.ID      `json:"scenario_id" gorm:"uniqueIndex:idx_binding_camera_scenario"`
	Enabled    bool              `json:"enabled" gorm:"not null;default:true"`
	Config     datatypes.JSONMap `json:"config" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (CameraBinding) TableName() string { return "ai_camera_bindings" }

// AlertPolicy decides fan-out and cooldown per organization and risk level.
type AlertPolicy struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	OrganizationID  snowflake.ID `json:"organization_id" gorm:"uniqueIndex:idx_policy_org_level"`
	RiskLevel       string       `json:"risk_level" gorm:"size:16;uniqueIndex:idx_policy_org_level"`
	NotifyWeb       bool         `json:"notify_web" gorm:"not null;default:true"`
	NotifyMobile    bool         `json:"notify_mobile" gorm:"not null;default:true"`
	NotifyEmail     bool         `json:"notify_email" gorm:"not null;default:false"`
	NotifySMS       bool         `json:"notify_sms" gorm:"not null;default:false"`
	CooldownMinutes int          `json:"cooldown_minutes" gorm:"not null;default:15"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (AlertPolicy) TableName() string { return "ai_alert_policies" }

// Input is one enterprise event lifted out of an ingest payload.
type Input struct {
	Module      string
	Scenario    string
	CameraID    string
	RiskSignals map[string]interface{}
	Confidence  float64
	OccurredAt  time.Time
}

// Alert is the outcome of an evaluation that crossed the scenario threshold
// and survived the cooldown check.
type Alert struct {
	EventID        snowflake.ID
	OrganizationID snowflake.ID
	ScenarioID     snowflake.ID
	ScenarioName   string
	RiskLevel      string
	RiskScore      int
	CameraID       string
	Policy         AlertPolicy
}

// Service evaluates enterprise events against the scenario catalog. A nil
// Alert with a nil error means the event scored below threshold, hit a
// cooldown, or matched no enabled scenario or binding.
type Service interface {
	Evaluate(ctx context.Context, in Input, orgID, edgeNodeID snowflake.ID) (*Alert, error)
}

// Repository is the catalog lookup surface.
type Repository interface {
	FindScenario(ctx context.Context, orgID snowflake.ID, module, scenarioType string) (*Scenario, error)
	RulesFor(ctx context.Context, scenarioID snowflake.ID) ([]ScenarioRule, error)
	FindBinding(ctx context.Context, cameraID, scenarioID snowflake.ID) (*CameraBinding, error)
	FindPolicy(ctx context.Context, orgID snowflake.ID, riskLevel string) (*AlertPolicy, error)
	HasRecentAlert(ctx context.Context, orgID snowflake.ID, cameraID string, scenarioID snowflake.ID, since, until time.Time) (bool, error)
}
