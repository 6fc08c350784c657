package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ValidateRequest is the body of POST /licenses/validate.
type ValidateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	EdgeID     string `json:"edge_id" binding:"required"`
}

// ValidateResult is returned for a valid license key.
type ValidateResult struct {
	Valid          bool       `json:"valid"`
	LicenseID      int64      `json:"license_id"`
	EdgeID         string     `json:"edge_id"`
	OrganizationID int64      `json:"organization_id"`
	ExpiresAt      *time.Time `json:"expires_at"`
	GraceDays      int        `json:"grace_days"`
	Modules        []string   `json:"modules"`
	Plan           string     `json:"plan,omitempty"`
	MaxCameras     int        `json:"max_cameras,omitempty"`
}

// Service validates license keys and maintains the 1:1 edge/license binding.
type Service interface {
	// Validate checks a license key presented by an edge node. scopeOrg
	// restricts the lookup to one organization when non-zero (signed calls).
	Validate(ctx context.Context, req ValidateRequest, scopeOrg snowflake.ID) (*ValidateResult, error)

	// Bind runs the heartbeat side effect: claim the declared license when
	// valid, otherwise auto-claim the first unbound active license of the
	// organization. Returns the bound license id, nil when none.
	Bind(ctx context.Context, edgeNodeID, orgID snowflake.ID, declared *snowflake.ID) (*snowflake.ID, error)
}

type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*License, error)
	FindByKey(ctx context.Context, key string) (*License, error)
	FindByKeyForOrganization(ctx context.Context, key string, orgID snowflake.ID) (*License, error)

	// Claim atomically binds a license to a node. The guarded UPDATE only
	// succeeds when the license is still unbound (or bound to the same
	// node); it returns ErrAlreadyBound when another node won the race.
	Claim(ctx context.Context, licenseID, edgeNodeID snowflake.ID) error

	// ClaimFirstAvailable binds the first unbound active license of the
	// organization to the node; ErrNoneAvailable when there is none.
	ClaimFirstAvailable(ctx context.Context, orgID, edgeNodeID snowflake.ID) (*License, error)

	// Release unbinds any license currently held by the node except keep.
	Release(ctx context.Context, edgeNodeID snowflake.ID, keep *snowflake.ID) error
}

var (
	ErrNotFound      = errors.New("license_not_found")
	ErrInactive      = errors.New("license_inactive")
	ErrExpired       = errors.New("license_expired")
	ErrAlreadyBound  = errors.New("license_already_bound")
	ErrNoneAvailable = errors.New("license_none_available")
	ErrOrgMismatch   = errors.New("license_organization_mismatch")
)
