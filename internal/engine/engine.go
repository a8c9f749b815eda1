// Package engine is the owning component for shard memory: it wires the
// store, the index and the relevance, dedup and enrichment passes into the
// operations exposed to callers.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/dedup"
	"github.com/rcliao/shardmem/internal/embedding"
	"github.com/rcliao/shardmem/internal/enrich"
	"github.com/rcliao/shardmem/internal/index"
	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/relevance"
	"github.com/rcliao/shardmem/internal/store"
)

// Config holds the tunables of an Engine.
type Config struct {
	Refresh        index.Refresh
	Classify       index.ClassifyOptions
	Floor          float64
	AutoSelectTopN int
	MaxTopN        int
	MaxFragments   int
	AILabel        string
	Dedup          dedup.Options
	FallbackShard  string // empty disables the placeholder fallback
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Refresh:        index.RefreshAlways,
		Classify:       index.DefaultClassifyOptions(),
		Floor:          relevance.DefaultFloor,
		AutoSelectTopN: 3,
		MaxTopN:        20,
		MaxFragments:   10,
		AILabel:        "AI",
	}
}

// Engine performs shard operations. It is safe for concurrent use.
type Engine struct {
	store    store.Store
	index    *index.Builder
	cfg      Config
	embedder embedding.Embedder
	enricher *enrich.Enricher
	log      *zap.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEmbedder enables query embeddings for vector search.
func WithEmbedder(emb embedding.Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithEnricher enables Enrich.
func WithEnricher(en *enrich.Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

// New creates an Engine over st whose index is maintained by b.
func New(st store.Store, b *index.Builder, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		index: b,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Store returns the underlying shard store.
func (e *Engine) Store() store.Store { return e.store }

// Builder returns the index builder.
func (e *Engine) Builder() *index.Builder { return e.index }

// RebuildIndex rebuilds and persists the index from shard files.
func (e *Engine) RebuildIndex(ctx context.Context) (*index.BuildResult, error) {
	return e.index.Rebuild(ctx)
}

// Index returns the index according to the configured refresh policy.
func (e *Engine) Index(ctx context.Context) (model.Index, error) {
	return e.index.Current(ctx, e.cfg.Refresh)
}

// afterWrite rebuilds the index following a mutation. The mutation has
// already succeeded, so a failed rebuild is logged rather than returned.
func (e *Engine) afterWrite(ctx context.Context, op string) {
	if _, err := e.index.Rebuild(ctx); err != nil {
		e.log.Warn("index rebuild after write failed", zap.String("op", op), zap.Error(err))
	}
}

// Classify derives status tags for s at the current time.
func (e *Engine) Classify(s *model.Shard) []string {
	return index.ClassifyShard(s, e.now(), e.cfg.Classify)
}

// Tags loads a shard and classifies it.
func (e *Engine) Tags(ctx context.Context, id string) ([]string, error) {
	sh, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Classify(sh), nil
}

// ListParams filters List. Empty fields match everything.
type ListParams struct {
	Tag    string
	Theme  string
	Intent string
	Limit  int // index.DefaultListLimit when not positive
}

// List rebuilds the index and returns matching entries sorted by id.
func (e *Engine) List(ctx context.Context, p ListParams) ([]model.IndexEntry, error) {
	res, err := e.index.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = index.DefaultListLimit
	}
	if m := e.index.Mirror(); m != nil {
		return m.List(ctx, index.ListParams{Tag: p.Tag, Theme: p.Theme, Intent: p.Intent, Limit: p.Limit})
	}

	entries := []model.IndexEntry{}
	for _, id := range sortedIDs(res.Index) {
		en := res.Index[id]
		if p.Tag != "" && !en.HasTag(p.Tag) {
			continue
		}
		if p.Theme != "" && en.Meta.Theme != p.Theme {
			continue
		}
		if p.Intent != "" && en.Meta.Intent != p.Intent {
			continue
		}
		entries = append(entries, en)
		if len(entries) == p.Limit {
			break
		}
	}
	return entries, nil
}

// Stats rebuilds the index and summarizes it.
func (e *Engine) Stats(ctx context.Context) (*index.Stats, error) {
	res, err := e.index.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	if m := e.index.Mirror(); m != nil {
		return m.Stats(ctx)
	}

	st := &index.Stats{
		TotalShards: len(res.Index),
		Tags:        []index.CountStats{},
		Themes:      []index.CountStats{},
		LastRebuild: &index.RebuildInfo{
			RunID:   res.RunID,
			BuiltAt: res.BuiltAt.UTC().Format(time.RFC3339),
			Entries: res.Entries,
			Skipped: len(res.Skipped),
		},
	}
	tags := map[string]int{}
	themes := map[string]int{}
	for _, en := range res.Index {
		if en.Meta.IsArchived() {
			st.ArchivedShards++
		}
		st.MergeLinks += len(en.Meta.MergedFrom)
		for _, t := range en.Tags {
			tags[t]++
		}
		if en.Meta.Theme != "" {
			themes[en.Meta.Theme]++
		}
	}
	st.Tags = counts(tags)
	st.Themes = counts(themes)
	return st, nil
}

// Lineage reports merge relations around id.
func (e *Engine) Lineage(ctx context.Context, id string) (*index.Lineage, error) {
	res, err := e.index.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := res.Index[id]; !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if m := e.index.Mirror(); m != nil {
		return m.Lineage(ctx, id)
	}

	l := &index.Lineage{ID: id, MergedFrom: []string{}, MergedInto: []string{}}
	l.MergedFrom = append(l.MergedFrom, res.Index[id].Meta.MergedFrom...)
	for _, other := range sortedIDs(res.Index) {
		for _, src := range res.Index[other].Meta.MergedFrom {
			if src == id {
				l.MergedInto = append(l.MergedInto, other)
				break
			}
		}
	}
	sort.Strings(l.MergedFrom)
	return l, nil
}

// Export returns every readable shard in id order.
func (e *Engine) Export(ctx context.Context) ([]*model.Shard, []model.Skip, error) {
	return e.store.ExportAll(ctx)
}

// ImportResult reports an Import.
type ImportResult struct {
	Imported int          `json:"imported"`
	Skipped  []model.Skip `json:"skipped"`
}

// Import stores exported shards, skipping ids that already exist.
func (e *Engine) Import(ctx context.Context, shards []*model.Shard) (*ImportResult, error) {
	n, skipped, err := e.store.Import(ctx, shards)
	if n > 0 {
		e.afterWrite(ctx, "import")
	}
	if err != nil {
		return nil, err
	}
	if skipped == nil {
		skipped = []model.Skip{}
	}
	return &ImportResult{Imported: n, Skipped: skipped}, nil
}

// Enrich runs the configured enricher over all shards.
func (e *Engine) Enrich(ctx context.Context, force bool) (*enrich.Report, error) {
	if e.enricher == nil {
		return nil, fmt.Errorf("%w: enrichment is not configured", model.ErrValidation)
	}
	runID := ulid.Make().String()
	e.log.Info("enrich started", zap.String("run", runID), zap.Bool("force", force))
	rep, err := e.enricher.Run(ctx, force)
	if rep != nil && len(rep.Enriched) > 0 {
		e.afterWrite(ctx, "enrich")
	}
	if err != nil {
		return rep, err
	}
	e.log.Info("enrich finished",
		zap.String("run", runID),
		zap.Int("enriched", len(rep.Enriched)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

func sortedIDs(idx model.Index) []string {
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func counts(m map[string]int) []index.CountStats {
	out := make([]index.CountStats, 0, len(m))
	for k, v := range m {
		out = append(out, index.CountStats{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
