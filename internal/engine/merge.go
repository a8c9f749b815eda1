package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

// MergeParams holds parameters for merging shards.
type MergeParams struct {
	IDs             []string
	GuidingQuestion string
	Theme           string
	Archive         bool // archive the sources after the merged shard is written
}

// Merge combines the histories of p.IDs into one meta-shard, ordered by
// timestamp. Either every step succeeds or nothing is left changed.
func (e *Engine) Merge(ctx context.Context, p MergeParams) (*model.Shard, error) {
	if err := validateMerge(p); err != nil {
		return nil, err
	}

	unlock := e.store.Lock(p.IDs...)
	defer unlock()

	sources := make([]*model.Shard, 0, len(p.IDs))
	for _, id := range p.IDs {
		sh, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("merge source %s: %w", id, err)
		}
		sources = append(sources, sh)
	}

	now := e.now()
	merged := &model.Shard{
		GuidingQuestion: strings.TrimSpace(p.GuidingQuestion),
		History:         MergeHistories(sources),
		Meta: model.Meta{
			Intent:          model.IntentMetaSynthesis,
			Theme:           p.Theme,
			UsageCount:      1,
			LastUsed:        model.FormatTime(now),
			MergedFrom:      append([]string(nil), p.IDs...),
			SourceQuestions: make([]string, 0, len(sources)),
		},
	}
	for i, s := range sources {
		merged.Meta.SourceQuestions = append(merged.Meta.SourceQuestions, p.IDs[i]+": "+s.GuidingQuestion)
	}

	merged, err := e.store.Create(ctx, store.SanitizeID(p.Theme+"_merged"), merged)
	if err != nil {
		return nil, err
	}

	if p.Archive {
		if err := e.archiveLocked(ctx, p.IDs, sources); err != nil {
			if derr := e.store.Delete(ctx, merged.ID); derr != nil {
				e.log.Error("merge rollback: delete merged shard", zap.String("shard", merged.ID), zap.Error(derr))
			}
			return nil, err
		}
	}

	e.log.Info("shards merged",
		zap.String("shard", merged.ID),
		zap.Strings("sources", p.IDs),
		zap.Int("turns", len(merged.History)),
		zap.Bool("archived_sources", p.Archive))
	e.afterWrite(ctx, "merge")
	return merged, nil
}

func validateMerge(p MergeParams) error {
	if len(p.IDs) < 2 {
		return fmt.Errorf("%w: merge needs at least 2 shard ids, got %d", model.ErrValidation, len(p.IDs))
	}
	seen := make(map[string]bool, len(p.IDs))
	for _, id := range p.IDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate shard id %q", model.ErrValidation, id)
		}
		seen[id] = true
	}
	if strings.TrimSpace(p.GuidingQuestion) == "" {
		return fmt.Errorf("%w: guiding question is required", model.ErrValidation)
	}
	if strings.TrimSpace(p.Theme) == "" {
		return fmt.Errorf("%w: theme is required", model.ErrValidation)
	}
	return nil
}

// archiveLocked archives sources, stored under keys, whose locks the caller
// holds. On failure the sources already written are restored from their
// snapshots.
func (e *Engine) archiveLocked(ctx context.Context, keys []string, sources []*model.Shard) error {
	written := make([]*model.Shard, 0, len(sources))
	for i, src := range sources {
		snapshot := *src
		snapshot.Meta = src.Meta.Clone()

		updated := *src
		updated.Meta = src.Meta.Clone()
		e.markArchived(&updated)
		if err := e.store.Write(ctx, keys[i], &updated); err != nil {
			var rerr error
			for j, w := range written {
				rerr = errors.Join(rerr, e.store.Write(ctx, keys[j], w))
			}
			if rerr != nil {
				e.log.Error("merge rollback: restore sources", zap.Error(rerr))
			}
			return fmt.Errorf("archive %s: %w", keys[i], err)
		}
		written = append(written, &snapshot)
	}
	return nil
}

// MergeHistories concatenates the histories of shards in order and sorts the
// result by timestamp with a stable sort. Missing or unparsable timestamps
// sort as the zero time.
func MergeHistories(shards []*model.Shard) []model.Turn {
	var turns []model.Turn
	for _, s := range shards {
		turns = append(turns, s.History...)
	}
	if turns == nil {
		return []model.Turn{}
	}
	keys := make([]time.Time, len(turns))
	for i, t := range turns {
		keys[i], _ = model.ParseTime(t.Timestamp)
	}
	idx := make([]int, len(turns))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return keys[idx[a]].Before(keys[idx[b]])
	})
	out := make([]model.Turn, len(turns))
	for i, j := range idx {
		out[i] = turns[j]
	}
	return out
}
