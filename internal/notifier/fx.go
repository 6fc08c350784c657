package notifier

import (
	"github.com/sentravision/sentra-cloud/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("notifier",
	fx.Provide(func(cfg config.Config, db *gorm.DB, log *zap.Logger) Notifier {
		if !cfg.FCM.Enabled || cfg.FCM.ServerKey == "" {
			return NewLog(log)
		}
		return NewFCM(db, log, cfg.FCM.Endpoint, cfg.FCM.ServerKey)
	}),
)
