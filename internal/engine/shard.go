package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

// CreateParams holds parameters for creating a shard.
type CreateParams struct {
	GuidingQuestion string
	Intent          string // default "reflection"
	Theme           string // default "general"
	InitialMessage  string
}

// Create writes a new shard whose id is derived from theme and intent.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*model.Shard, error) {
	question := strings.TrimSpace(p.GuidingQuestion)
	if question == "" {
		return nil, fmt.Errorf("%w: guiding question is required", model.ErrValidation)
	}
	if p.Intent == "" {
		p.Intent = "reflection"
	}
	if p.Theme == "" {
		p.Theme = "general"
	}

	now := e.now()
	sh := &model.Shard{
		GuidingQuestion: question,
		History:         []model.Turn{},
		Meta: model.Meta{
			Intent:     p.Intent,
			Theme:      p.Theme,
			UsageCount: 1,
			LastUsed:   model.FormatTime(now),
		},
	}
	if p.InitialMessage != "" {
		sh.History = append(sh.History, model.Turn{Timestamp: model.FormatTime(now), User: p.InitialMessage})
	}

	base := store.SanitizeID(p.Theme + "_" + p.Intent)
	sh, err := e.store.Create(ctx, base, sh)
	if err != nil {
		return nil, err
	}
	e.log.Info("shard created", zap.String("shard", sh.ID))
	e.afterWrite(ctx, "create")
	return sh, nil
}

// Append adds one exchange to a shard and bumps its usage.
func (e *Engine) Append(ctx context.Context, p store.AppendParams) (*model.Shard, error) {
	if p.User == "" && p.AI == "" {
		return nil, fmt.Errorf("%w: user message and ai response are both empty", model.ErrValidation)
	}
	sh, err := e.store.Append(ctx, p)
	if err != nil {
		return nil, err
	}
	e.afterWrite(ctx, "update")
	return sh, nil
}

// Archive marks a shard archived. Archiving again only refreshes archived_at.
func (e *Engine) Archive(ctx context.Context, id string) (*model.Shard, error) {
	sh, err := e.store.Update(ctx, id, func(s *model.Shard) error {
		e.markArchived(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("shard archived", zap.String("shard", id))
	e.afterWrite(ctx, "archive")
	return sh, nil
}

func (e *Engine) markArchived(s *model.Shard) {
	s.Meta.Intent = model.IntentArchived
	s.Meta.ArchivedAt = model.FormatTime(e.now())
}
