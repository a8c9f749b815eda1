// Package enrich attaches summaries, topics and embeddings to shards.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/shardmem/internal/chunker"
	"github.com/rcliao/shardmem/internal/embedding"
	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

// Config configures an Enricher.
type Config struct {
	Concurrency    int // default 2
	MaxPromptChars int // default 12000
	AILabel        string
	Logger         *zap.Logger
	Now            func() time.Time
}

// Enricher runs a Summarizer and an Embedder over every shard.
type Enricher struct {
	store    store.Store
	sum      Summarizer
	emb      embedding.Embedder
	limit    int
	maxChars int
	aiLabel  string
	log      *zap.Logger
	now      func() time.Time
}

// New creates an Enricher. Both the summarizer and the embedder are required.
func New(st store.Store, sum Summarizer, emb embedding.Embedder, cfg Config) (*Enricher, error) {
	if sum == nil {
		return nil, fmt.Errorf("%w: no summarizer configured (set enrich.provider)", model.ErrValidation)
	}
	if emb == nil {
		return nil, fmt.Errorf("%w: no embedder configured (set embed.provider)", model.ErrValidation)
	}
	e := &Enricher{
		store:    st,
		sum:      sum,
		emb:      emb,
		limit:    cfg.Concurrency,
		maxChars: cfg.MaxPromptChars,
		aiLabel:  cfg.AILabel,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if e.limit <= 0 {
		e.limit = 2
	}
	if e.maxChars <= 0 {
		e.maxChars = 12000
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Report is the per-shard outcome of a Run, each list in key order.
type Report struct {
	Enriched []string     `json:"enriched"`
	Skipped  []model.Skip `json:"skipped"`
	Failed   []model.Skip `json:"failed"`
}

type outcome struct {
	key     string
	status  int // 0 enriched, 1 skipped, 2 failed
	reason  string
	visited bool
}

// Run enriches every shard. Already enriched shards are skipped unless force
// is set. A failure leaves that shard untouched and is recorded in the report.
func (e *Enricher) Run(ctx context.Context, force bool) (*Report, error) {
	keys, err := e.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]outcome, len(keys))
	var mu sync.Mutex
	set := func(i int, o outcome) {
		mu.Lock()
		o.visited = true
		outcomes[i] = o
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			skipped, err := e.one(ctx, key, force)
			switch {
			case err != nil:
				e.log.Warn("enrich failed", zap.String("shard", key), zap.Error(err))
				set(i, outcome{key: key, status: 2, reason: err.Error()})
			case skipped:
				set(i, outcome{key: key, status: 1, reason: "already enriched"})
			default:
				e.log.Info("shard enriched", zap.String("shard", key))
				set(i, outcome{key: key, status: 0})
			}
			return nil
		})
	}
	g.Wait()

	rep := &Report{Enriched: []string{}, Skipped: []model.Skip{}, Failed: []model.Skip{}}
	for _, o := range outcomes {
		if !o.visited {
			continue
		}
		switch o.status {
		case 0:
			rep.Enriched = append(rep.Enriched, o.key)
		case 1:
			rep.Skipped = append(rep.Skipped, model.Skip{ID: o.key, Reason: o.reason})
		default:
			rep.Failed = append(rep.Failed, model.Skip{ID: o.key, Reason: o.reason})
		}
	}
	return rep, ctx.Err()
}

// errAlreadyEnriched aborts the locked update when a concurrent run got there first.
var errAlreadyEnriched = errors.New("already enriched")

func (e *Enricher) one(ctx context.Context, key string, force bool) (skipped bool, err error) {
	sh, err := e.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !force && len(sh.Embedding()) > 0 {
		return true, nil
	}

	sum, err := e.sum.Summarize(ctx, e.Prompt(sh))
	if err != nil {
		return false, wrapDependency(err)
	}
	vec, err := e.emb.Embed(ctx, sum.Summary)
	if err != nil {
		return false, wrapDependency(err)
	}
	if len(vec) == 0 {
		return false, fmt.Errorf("%w: empty embedding", model.ErrDependency)
	}

	enr := &model.Enrichment{
		Summary:          sum.Summary,
		Topics:           sum.Topics,
		ConversationType: sum.ConversationType,
		Embedding:        vec,
		UpdatedAt:        model.FormatTime(e.now().UTC()),
	}
	_, err = e.store.Update(ctx, key, func(s *model.Shard) error {
		if !force && len(s.Embedding()) > 0 {
			return errAlreadyEnriched
		}
		s.Enrichment = enr
		return nil
	})
	if errors.Is(err, errAlreadyEnriched) {
		return true, nil
	}
	return false, err
}

// Prompt renders the content handed to the summarizer, bounded by the
// configured character budget and cut on turn boundaries.
func (e *Enricher) Prompt(sh *model.Shard) string {
	var b strings.Builder
	if sh.GuidingQuestion != "" {
		fmt.Fprintf(&b, "Guiding question: %s\n", sh.GuidingQuestion)
	}
	if sh.Meta.Theme != "" || sh.Meta.Intent != "" {
		fmt.Fprintf(&b, "Theme: %s\nIntent: %s\n", sh.Meta.Theme, sh.Meta.Intent)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	header := b.String()
	if len(header) >= e.maxChars {
		return header[:e.maxChars]
	}

	chunks := chunker.Chunk(sh.History, chunker.Options{
		TargetSize: chunker.DefaultTargetSize,
		MaxSize:    chunker.DefaultMaxSize,
		AILabel:    e.aiLabel,
	})
	return header + chunker.Prefix(chunks, e.maxChars-len(header))
}

func wrapDependency(err error) error {
	if errors.Is(err, model.ErrDependency) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrDependency, err)
}
