package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/relevance"
)

// Interact statuses.
const (
	StatusLoaded        = "loaded"
	StatusNoShardsFound = "no_shards_found"
)

const (
	placeholderTheme     = "auto_memory_patch"
	placeholderQuestionF = "What core principles or knowledge should this shard (%s) contain?"
)

// InteractParams holds parameters for loading shard context.
type InteractParams struct {
	IDs        []string
	Message    string
	AutoSelect bool // infer ids from Message when IDs is empty
}

// ShardContext is the loaded view of one shard.
type ShardContext struct {
	ShardID         string     `json:"shard_id"`
	GuidingQuestion string     `json:"guiding_question"`
	Meta            model.Meta `json:"meta_tags"`
	StatusTags      []string   `json:"status_tags"`
	FragmentCount   int        `json:"fragment_count"`
	Fragments       []string   `json:"fragments"`
}

// InteractResult is the response to Interact.
type InteractResult struct {
	Status   string         `json:"status"`
	Inferred bool           `json:"inferred"`
	Fallback bool           `json:"fallback,omitempty"`
	Shards   []ShardContext `json:"shards"`
	Errors   []model.Skip   `json:"errors,omitempty"`
}

// Interact loads context for the requested shards, bumping their usage.
// Ids missing from the store are reported in Errors rather than failing.
func (e *Engine) Interact(ctx context.Context, p InteractParams) (*InteractResult, error) {
	res := &InteractResult{Shards: []ShardContext{}}
	ids := p.IDs

	if len(ids) == 0 && p.AutoSelect {
		res.Inferred = true
		if p.Message != "" {
			selected, err := e.AutoSelect(ctx, p.Message)
			if err != nil {
				return nil, err
			}
			ids = relevance.IDs(selected)
		}
		if len(ids) == 0 && e.cfg.FallbackShard != "" {
			id, err := e.ensurePlaceholder(ctx, e.cfg.FallbackShard)
			if err != nil {
				return nil, err
			}
			ids = []string{id}
			res.Fallback = true
		}
	}
	if len(ids) == 0 {
		res.Status = StatusNoShardsFound
		return res, nil
	}

	for _, id := range ids {
		sh, err := e.store.Touch(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrCorrupt) || errors.Is(err, model.ErrValidation) {
				res.Errors = append(res.Errors, model.Skip{ID: id, Reason: err.Error()})
				continue
			}
			return nil, err
		}
		// Report the id the caller can address the shard by.
		sh.ID = id
		frags := Fragments(sh, e.cfg.MaxFragments, e.cfg.AILabel)
		res.Shards = append(res.Shards, ShardContext{
			ShardID:         sh.ID,
			GuidingQuestion: sh.GuidingQuestion,
			Meta:            sh.Meta,
			StatusTags:      e.Classify(sh),
			FragmentCount:   len(frags),
			Fragments:       frags,
		})
	}

	if len(res.Shards) == 0 {
		res.Status = StatusNoShardsFound
	} else {
		res.Status = StatusLoaded
	}
	return res, nil
}

// ensurePlaceholder creates the fallback shard when it does not exist yet.
func (e *Engine) ensurePlaceholder(ctx context.Context, id string) (string, error) {
	exists, err := e.store.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if exists {
		return id, nil
	}
	sh := &model.Shard{
		ID:              id,
		GuidingQuestion: fmt.Sprintf(placeholderQuestionF, id),
		History:         []model.Turn{},
		Meta: model.Meta{
			Intent:   model.IntentPlaceholder,
			Theme:    placeholderTheme,
			LastUsed: model.FormatTime(e.now()),
		},
	}
	n, skipped, err := e.store.Import(ctx, []*model.Shard{sh})
	if err != nil {
		return "", err
	}
	if n == 0 && len(skipped) > 0 && skipped[0].Reason != "already exists" {
		return "", fmt.Errorf("%w: fallback shard: %s", model.ErrValidation, skipped[0].Reason)
	}
	if n > 0 {
		e.log.Info("placeholder shard created", zap.String("shard", id))
		e.afterWrite(ctx, "placeholder")
	}
	return id, nil
}

// Fragments renders the last limit fragments of a shard's history.
// A non-positive limit returns every fragment.
func Fragments(sh *model.Shard, limit int, aiLabel string) []string {
	if aiLabel == "" {
		aiLabel = "AI"
	}
	var out []string
	for _, t := range sh.History {
		if t.User != "" {
			out = append(out, fmt.Sprintf("[SHARD: %s] User: %s", sh.ID, t.User))
		}
		if t.AI != "" {
			out = append(out, fmt.Sprintf("[SHARD: %s] %s: %s", sh.ID, aiLabel, t.AI))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []string{}
	}
	return out
}
