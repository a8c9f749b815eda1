package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/relevance"
)

// SearchParams holds parameters for ranking shards against a query.
type SearchParams struct {
	Query          string
	TopN           int
	Mode           relevance.Mode // default token
	QueryEmbedding []float64      // vector mode; embedded with the configured Embedder when empty

	MinScore float64
	HasMin   bool
}

// SearchResult is a ranked search response.
type SearchResult struct {
	Query         string             `json:"query"`
	Mode          relevance.Mode     `json:"mode"`
	Results       []relevance.Result `json:"results"`
	TotalSearched int                `json:"total_searched"`
}

// Search ranks non-archived shards against p.Query.
func (e *Engine) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", model.ErrValidation)
	}
	if p.TopN < 1 || p.TopN > e.cfg.MaxTopN {
		return nil, fmt.Errorf("%w: top_n must be between 1 and %d, got %d", model.ErrValidation, e.cfg.MaxTopN, p.TopN)
	}
	mode := p.Mode
	if mode == "" {
		mode = relevance.ModeToken
	}
	if mode != relevance.ModeToken && mode != relevance.ModeVector {
		return nil, fmt.Errorf("%w: unknown search mode %q", model.ErrValidation, mode)
	}

	idx, err := e.Index(ctx)
	if err != nil {
		return nil, err
	}

	var embeddings map[string][]float64
	qvec := p.QueryEmbedding
	if mode == relevance.ModeVector {
		if len(qvec) == 0 {
			qvec = e.embedQuery(ctx, query)
		}
		if len(qvec) == 0 {
			e.log.Info("no query embedding, falling back to token search")
			mode = relevance.ModeToken
		} else if embeddings, err = e.loadEmbeddings(ctx); err != nil {
			return nil, err
		}
	}

	results := relevance.Rank(query, relevance.FromIndex(idx, embeddings), relevance.Options{
		Mode:           mode,
		QueryEmbedding: qvec,
		TopN:           p.TopN,
		MinScore:       p.MinScore,
		HasMin:         p.HasMin,
	})
	return &SearchResult{Query: query, Mode: mode, Results: results, TotalSearched: len(idx)}, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) []float64 {
	if e.embedder == nil {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.log.Warn("query embedding failed", zap.Error(err))
		return nil
	}
	return vec
}

// loadEmbeddings reads shard-level embeddings, which the index does not carry.
func (e *Engine) loadEmbeddings(ctx context.Context) (map[string][]float64, error) {
	out := make(map[string][]float64)
	err := e.store.Scan(ctx, func(key string, s *model.Shard, err error) error {
		if err != nil {
			return nil
		}
		if v := s.Embedding(); len(v) > 0 {
			out[key] = v
		}
		return nil
	})
	return out, err
}

// AutoSelect returns the shards whose token score clears the relevance
// floor, best first. An empty result means nothing matched.
func (e *Engine) AutoSelect(ctx context.Context, message string) ([]relevance.Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: empty message", model.ErrValidation)
	}
	idx, err := e.Index(ctx)
	if err != nil {
		return nil, err
	}
	return relevance.AutoSelect(message, relevance.FromIndex(idx, nil), e.cfg.Floor, e.cfg.AutoSelectTopN), nil
}
