package worker

import (
	"context"
	"log/slog"
	"time"
)

// Pruner periodically fails batches whose recipe expired mid-flight and drops
// expired recipes, so nothing stays "processing" forever.
type Pruner struct {
	batches  StaleBatches
	recipes  ExpiredRecipes
	interval time.Duration
	now      func() time.Time
}

func NewPruner(b StaleBatches, r ExpiredRecipes, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Pruner{batches: b, recipes: r, interval: interval, now: time.Now}
}

func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

func (p *Pruner) PruneOnce(ctx context.Context) {
	failed, err := p.batches.FailStale(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fail stale batches", "error", err)
	}

	deleted, err := p.recipes.DeleteExpired(ctx, p.now())
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete expired recipes", "error", err)
	}

	if failed > 0 || deleted > 0 {
		slog.InfoContext(ctx, "pruned expired work", "failed_batches", failed, "deleted_recipes", deleted)
	}
}
