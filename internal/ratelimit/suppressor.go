// Package ratelimit de-duplicates noisy log lines from misbehaving edges.
package ratelimit

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"go.uber.org/zap"
)

// Suppressor answers whether a (edge, condition) key may log again. The
// first call inside a window wins, repeats are suppressed until it expires.
type Suppressor interface {
	Allow(ctx context.Context, key string, window time.Duration) bool
}

type redisSuppressor struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisSuppressor(client *redis.Client, log *zap.Logger) Suppressor {
	return &redisSuppressor{
		client: client,
		log:    log.Named("ratelimit.suppressor"),
	}
}

func (s *redisSuppressor) Allow(ctx context.Context, key string, window time.Duration) bool {
	ok, err := s.client.SetNX(ctx, "logsuppress:"+key, 1, window).Result()
	if err != nil {
		// Redis outages must not silence logging entirely.
		s.log.Warn("suppressor redis error", zap.Error(err))
		return true
	}
	return ok
}

type memorySuppressor struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	clock    clock.Clock
}

func NewMemorySuppressor(clk clock.Clock) Suppressor {
	return &memorySuppressor{
		lastSeen: make(map[string]time.Time),
		clock:    clk,
	}
}

func (s *memorySuppressor) Allow(_ context.Context, key string, window time.Duration) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if seen, ok := s.lastSeen[key]; ok && now.Sub(seen) < window {
		return false
	}
	s.lastSeen[key] = now

	if len(s.lastSeen) > 4096 {
		for k, seen := range s.lastSeen {
			if now.Sub(seen) >= window {
				delete(s.lastSeen, k)
			}
		}
	}
	return true
}
