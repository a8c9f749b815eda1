package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/model"
)

// ExportAll returns every readable shard in key order. Unreadable records are skipped.
func (s *FileStore) ExportAll(ctx context.Context) ([]*model.Shard, []model.Skip, error) {
	var (
		shards  []*model.Shard
		skipped []model.Skip
	)
	err := s.Scan(ctx, func(key string, sh *model.Shard, err error) error {
		if err != nil {
			skipped = append(skipped, model.Skip{ID: key, Reason: err.Error()})
			return nil
		}
		shards = append(shards, sh)
		return nil
	})
	return shards, skipped, err
}

// Import stores shards from an export. Records whose id already exists are skipped.
func (s *FileStore) Import(ctx context.Context, shards []*model.Shard) (int, []model.Skip, error) {
	imported := 0
	var skipped []model.Skip
	for _, sh := range shards {
		if err := checkID(sh.ID); err != nil {
			skipped = append(skipped, model.Skip{ID: sh.ID, Reason: err.Error()})
			continue
		}
		unlock := s.Lock(sh.ID)
		s.create.Lock()
		exists, err := s.Exists(ctx, sh.ID)
		if err == nil && !exists {
			err = s.write(sh.ID, sh)
		}
		s.create.Unlock()
		unlock()
		switch {
		case err != nil:
			return imported, skipped, err
		case exists:
			skipped = append(skipped, model.Skip{ID: sh.ID, Reason: "already exists"})
		default:
			imported++
		}
	}
	s.log.Info("import finished", zap.Int("imported", imported), zap.Int("skipped", len(skipped)))
	return imported, skipped, nil
}
