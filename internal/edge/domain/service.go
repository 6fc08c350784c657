package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CameraStatus is one entry of a heartbeat's cameras_status array.
type CameraStatus struct {
	CameraID string `json:"camera_id"`
	Status   string `json:"status"`
}

// HeartbeatRequest is the body of POST /edges/heartbeat.
type HeartbeatRequest struct {
	EdgeID        string         `json:"edge_id"`
	Version       string         `json:"version" binding:"required"`
	Online        *bool          `json:"online" binding:"required"`
	LicenseID     *int64         `json:"license_id"`
	SystemInfo    map[string]any `json:"system_info"`
	InternalIP    string         `json:"internal_ip"`
	PublicIP      string         `json:"public_ip"`
	Hostname      string         `json:"hostname"`
	CamerasStatus []CameraStatus `json:"cameras_status"`
}

// HeartbeatResult carries the updated node plus the one-time secret when
// this call was the node's first contact.
type HeartbeatResult struct {
	Edge       *EdgeNode
	EdgeKey    string
	EdgeSecret string // plaintext, empty except on first contact
}

// Service is the registration and heartbeat state machine.
type Service interface {
	// HeartbeatFirstContact handles an unsigned heartbeat identified only by
	// edge_id. It is rejected once the secret has been delivered.
	HeartbeatFirstContact(ctx context.Context, req HeartbeatRequest) (*HeartbeatResult, error)

	// HeartbeatAuthenticated handles a signed heartbeat for a resolved node.
	HeartbeatAuthenticated(ctx context.Context, edge *EdgeNode, req HeartbeatRequest) (*HeartbeatResult, error)
}

// Repository is the persistence surface the service, the request gate, and
// the presence sweeper use.
type Repository interface {
	FindByEdgeID(ctx context.Context, edgeID string) (*EdgeNode, error)
	FindByEdgeKey(ctx context.Context, edgeKey string) (*EdgeNode, error)

	// ListOnline returns the nodes currently flagged online.
	ListOnline(ctx context.Context) ([]EdgeNode, error)

	// MarkOffline clears the online flag for a node that stopped
	// heartbeating.
	MarkOffline(ctx context.Context, id snowflake.ID, at time.Time) error

	// ConsumeNonce inserts the nonce, returning ErrNonceReused when it was
	// already present. Purges nonces older than retention as a side effect.
	ConsumeNonce(ctx context.Context, nonce EdgeNonce, retention time.Duration) error
}

var (
	ErrNotFound          = errors.New("edge_not_found")
	ErrAlreadyRegistered = errors.New("already_registered")
	ErrNonceReused       = errors.New("nonce_reused")
	ErrSecretUnavailable = errors.New("secret_unavailable")
)
