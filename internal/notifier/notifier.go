// Package notifier fans alerts out to an organization's mobile devices.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

type Notifier interface {
	SendToOrganization(ctx context.Context, orgID snowflake.ID, title, body string, data map[string]interface{}, priority string) error
}

// DeviceToken is one registered mobile push target.
type DeviceToken struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrganizationID snowflake.ID `gorm:"index"`
	Token          string       `gorm:"type:text;not null"`
	Platform       string       `gorm:"size:32"`
	IsActive       bool         `gorm:"not null;default:true"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DeviceToken) TableName() string { return "device_tokens" }

type fcmNotifier struct {
	db        *gorm.DB
	log       *zap.Logger
	client    *http.Client
	endpoint  string
	serverKey string
}

func NewFCM(db *gorm.DB, log *zap.Logger, endpoint, serverKey string) Notifier {
	return &fcmNotifier{
		db:        db,
		log:       log.Named("notifier.fcm"),
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoint:  endpoint,
		serverKey: serverKey,
	}
}

func (n *fcmNotifier) SendToOrganization(ctx context.Context, orgID snowflake.ID, title, body string, data map[string]interface{}, priority string) error {
	var tokens []string
	err := n.db.WithContext(ctx).
		Model(&DeviceToken{}).
		Where("organization_id = ? AND is_active = ?", orgID, true).
		Pluck("token", &tokens).Error
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		n.log.Debug("no active device tokens", zap.Int64("organization_id", orgID.Int64()))
		return nil
	}

	if data == nil {
		data = map[string]interface{}{}
	}
	data["priority"] = priority

	payload := map[string]interface{}{
		"registration_ids": tokens,
		"notification": map[string]interface{}{
			"title": title,
			"body":  body,
			"sound": "default",
		},
		"data":     data,
		"priority": priority,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "key="+n.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.log.Error("push delivery failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet))
		return fmt.Errorf("fcm: unexpected status %d", resp.StatusCode)
	}

	n.log.Info("push delivered",
		zap.Int64("organization_id", orgID.Int64()),
		zap.Int("devices", len(tokens)))
	return nil
}

// logNotifier stands in when push delivery is disabled; alerts still leave a
// trace in the logs.
type logNotifier struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notifier.log")}
}

func (n *logNotifier) SendToOrganization(_ context.Context, orgID snowflake.ID, title, body string, data map[string]interface{}, priority string) error {
	n.log.Info("notification",
		zap.Int64("organization_id", orgID.Int64()),
		zap.String("title", title),
		zap.String("body", body),
		zap.String("priority", priority),
		zap.Any("data", data))
	return nil
}
