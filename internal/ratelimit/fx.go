package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(func(cfg config.Config, clk clock.Clock, log *zap.Logger) Suppressor {
		if cfg.RateLimit.Enabled && cfg.RateLimit.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.RateLimit.RedisAddr,
				Password: cfg.RateLimit.RedisPassword,
				DB:       cfg.RateLimit.RedisDB,
			})
			return NewRedisSuppressor(client, log)
		}
		return NewMemorySuppressor(clk)
	}),
)
