// Package domain contains persistence models and contracts for edge nodes.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EdgeNode is one field appliance. The secret is stored encrypted and its
// plaintext leaves the server exactly once, on first contact.
type EdgeNode struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	LicenseID      *snowflake.ID `gorm:"index" json:"license_id"`

	EdgeID string `gorm:"type:text;not null;uniqueIndex" json:"edge_id"`
	Name   string `gorm:"type:text" json:"name"`

	EdgeKey           string     `gorm:"type:text;not null;uniqueIndex" json:"-"`
	EdgeSecret        string     `gorm:"type:text;not null" json:"-"` // AEAD ciphertext
	SecretDeliveredAt *time.Time `json:"-"`

	Version    string            `gorm:"type:text" json:"version"`
	Online     bool              `gorm:"not null;default:false" json:"online"`
	LastSeenAt *time.Time        `gorm:"index" json:"last_seen_at"`
	InternalIP string            `gorm:"type:text" json:"internal_ip"`
	PublicIP   string            `gorm:"type:text" json:"public_ip"`
	Hostname   string            `gorm:"type:text" json:"hostname"`
	SystemInfo datatypes.JSONMap `gorm:"type:jsonb" json:"system_info"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (EdgeNode) TableName() string { return "edge_nodes" }

// Registered reports whether the one-time secret has been handed out. Once
// true, every contact from this node must be signed.
func (n *EdgeNode) Registered() bool {
	return n.SecretDeliveredAt != nil
}

// OnlineWithin reports whether the node heartbeated within the window.
func (n *EdgeNode) OnlineWithin(now time.Time, window time.Duration) bool {
	return n.LastSeenAt != nil && now.Sub(*n.LastSeenAt) < window
}

// EdgeNonce is a consumed request nonce. The unique index on Nonce is the
// replay barrier; inserts race, duplicates lose.
type EdgeNonce struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Nonce      string       `gorm:"type:text;not null;uniqueIndex"`
	EdgeNodeID snowflake.ID `gorm:"not null;index"`
	IPAddress  string       `gorm:"type:text"`
	UsedAt     time.Time    `gorm:"not null;index"`
}

func (EdgeNonce) TableName() string { return "edge_nonces" }
