package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	"gorm.io/datatypes"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

const BatchMaxDefault = 100

var (
	ErrModuleDisabled = errors.New("module_disabled")
	ErrBatchTooLarge  = errors.New("batch_too_large")
	ErrBatchEmpty     = errors.New("batch_empty")
)

// Event is one observation reported by an edge node, or one alert row the
// scoring engine materialized.
type Event struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrganizationID snowflake.ID      `json:"organization_id" gorm:"index:idx_events_org_module_date"`
	EdgeNodeID     snowflake.ID      `json:"edge_node_id" gorm:"index"`
	EdgeID         string            `json:"edge_id" gorm:"size:64"`
	EventType      string            `json:"event_type" gorm:"size:64"`
	AIModule       *string           `json:"ai_module" gorm:"size:32;index:idx_events_org_module_date"`
	Severity       string            `json:"severity" gorm:"size:16"`
	RiskScore      *int              `json:"risk_score" gorm:"index"`
	ScenarioID     *snowflake.ID     `json:"scenario_id" gorm:"index"`
	Title          string            `json:"title" gorm:"size:255"`
	Description    string            `json:"description" gorm:"type:text"`
	CameraID       *string           `json:"camera_id" gorm:"size:64;index"`
	OccurredAt     time.Time         `json:"occurred_at" gorm:"index:idx_events_org_module_date"`
	Meta           datatypes.JSONMap `json:"meta" gorm:"type:jsonb"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Event) TableName() string { return "events" }

// Timestamp is an RFC 3339 instant that tolerates bad input. Edge agents
// with a broken clock sometimes emit unparseable date strings; those decode
// as unset and the ingest path substitutes the server clock, so one bad
// timestamp cannot sink the item it rides in or its batch neighbors.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// IngestRequest is one event as the edge node reports it. Module, scenario,
// risk signals, and confidence ride in Meta the way the edge runtime emits
// them.
type IngestRequest struct {
	EventType  string         `json:"event_type" binding:"required"`
	Severity   string         `json:"severity" binding:"required,oneof=info warning critical"`
	OccurredAt Timestamp      `json:"occurred_at"`
	CameraID   *string        `json:"camera_id"`
	Meta       map[string]any `json:"meta"`
}

// IngestResult reports what one ingest did. Enterprise events are consumed
// by the scoring engine and only materialize an event row when an alert
// fires, so EventID may be nil while Evaluated is true.
type IngestResult struct {
	EventID        *int64 `json:"event_id"`
	Evaluated      bool   `json:"evaluated"`
	AlertGenerated bool   `json:"alert_generated"`
}

// BatchRequest wraps up to BatchMaxDefault events behind a single signature.
type BatchRequest struct {
	Events []IngestRequest `json:"events" binding:"required"`
}

type BatchCreated struct {
	EventID   int64   `json:"event_id"`
	EventType string  `json:"event_type"`
	AIModule  *string `json:"ai_module"`
}

type BatchError struct {
	Index   int    `json:"index"`
	Error   string `json:"error"`
	Module  string `json:"module,omitempty"`
	Message string `json:"message,omitempty"`
}

// BatchResult reconciles item by item: Created counts stored event rows
// (each with an entry in Events), Evaluated counts items the scoring engine
// consumed, Failed counts items with an entry in Errors.
type BatchResult struct {
	Created   int            `json:"created"`
	Evaluated int            `json:"evaluated"`
	Failed    int            `json:"failed"`
	Events    []BatchCreated `json:"events"`
	Errors    []BatchError   `json:"errors"`
}

type Service interface {
	Ingest(ctx context.Context, edge *edgedomain.EdgeNode, req IngestRequest) (*IngestResult, error)
	BatchIngest(ctx context.Context, edge *edgedomain.EdgeNode, req BatchRequest) (*BatchResult, error)
}
