package engine

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/dedup"
	"github.com/rcliao/shardmem/internal/model"
)

// DedupResult reports a duplicate scan and, unless dry-run, the removals.
type DedupResult struct {
	RunID   string        `json:"run_id"`
	DryRun  bool          `json:"dry_run"`
	Report  *dedup.Report `json:"report"`
	Removed []string      `json:"removed"`
	Failed  []model.Skip  `json:"failed,omitempty"`
}

// FindDuplicates reports (duplicate, original) pairs without deleting anything.
func (e *Engine) FindDuplicates(ctx context.Context) (*dedup.Report, error) {
	return dedup.Find(ctx, e.store, e.cfg.Dedup)
}

// Dedup finds duplicates and, unless dryRun, deletes each one and rebuilds
// the index once.
func (e *Engine) Dedup(ctx context.Context, dryRun bool) (*DedupResult, error) {
	rep, err := e.FindDuplicates(ctx)
	if err != nil {
		return nil, err
	}
	res := &DedupResult{
		RunID:   ulid.Make().String(),
		DryRun:  dryRun,
		Report:  rep,
		Removed: []string{},
	}
	if dryRun {
		return res, nil
	}

	for _, p := range rep.Pairs {
		if err := e.store.Delete(ctx, p.Duplicate); err != nil {
			e.log.Warn("delete duplicate failed", zap.String("shard", p.Duplicate), zap.Error(err))
			res.Failed = append(res.Failed, model.Skip{ID: p.Duplicate, Reason: err.Error()})
			continue
		}
		res.Removed = append(res.Removed, p.Duplicate)
	}
	if len(res.Removed) > 0 {
		e.afterWrite(ctx, "dedup")
	}
	e.log.Info("dedup finished",
		zap.String("run", res.RunID),
		zap.Int("pairs", len(rep.Pairs)),
		zap.Int("removed", len(res.Removed)))
	return res, nil
}
