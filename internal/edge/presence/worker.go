// Package presence downgrades nodes whose heartbeats stopped arriving. A
// node reports its own online flag on every heartbeat; this worker is what
// turns the flag back off when the heartbeats themselves go quiet.
package presence

import (
	"context"
	"time"

	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	"github.com/sentravision/sentra-cloud/internal/edge/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepInterval = time.Minute

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	EdgeCfg *config.EdgeConfigHolder
}

type Worker struct {
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	edgeCfg *config.EdgeConfigHolder
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:     p.Log.Named("edge.presence"),
		clock:   p.Clock,
		repo:    p.Repo,
		edgeCfg: p.EdgeCfg,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("presence sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce flips every online node whose last heartbeat fell outside the
// configured window. Returns how many nodes were downgraded.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	window := time.Duration(w.edgeCfg.Get().OnlineWindowMinutes) * time.Minute
	now := w.clock.Now()

	nodes, err := w.repo.ListOnline(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range nodes {
		node := &nodes[i]
		if node.OnlineWithin(now, window) {
			continue
		}
		if err := w.repo.MarkOffline(ctx, node.ID, now); err != nil {
			w.log.Warn("mark offline failed",
				zap.String("edge_id", node.EdgeID),
				zap.Error(err))
			continue
		}
		swept++
	}

	if swept > 0 {
		w.log.Info("stale edge nodes marked offline", zap.Int("count", swept))
	}
	return swept, nil
}
