package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

// Refresh selects how readers obtain the index.
type Refresh string

const (
	// RefreshAlways rebuilds from shard files on every read.
	RefreshAlways Refresh = "always"
	// RefreshLazy trusts the persisted index unless it is missing, corrupt, legacy or empty.
	RefreshLazy Refresh = "lazy"
)

// LoadStatus describes what Load found on disk.
type LoadStatus string

const (
	LoadOK      LoadStatus = "ok"
	LoadMissing LoadStatus = "missing"
	LoadLegacy  LoadStatus = "legacy"
	LoadCorrupt LoadStatus = "corrupt"
)

// BuildResult is the outcome of one rebuild.
type BuildResult struct {
	RunID   string       `json:"run_id"`
	BuiltAt time.Time    `json:"built_at"`
	Index   model.Index  `json:"-"`
	Entries int          `json:"entries"`
	Skipped []model.Skip `json:"skipped,omitempty"`
}

// Builder scans the shard store into an Index and persists it. It is the
// single writer of the index file and the mirror.
type Builder struct {
	store  store.Store
	path   string
	opts   ClassifyOptions
	mirror *SQLiteMirror
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex // held for build+save
	flight  singleflight.Group
	entropy *rand.Rand
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Path     string // index file
	Classify ClassifyOptions
	Mirror   *SQLiteMirror // optional
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewBuilder creates an index builder over st.
func NewBuilder(st store.Store, cfg BuilderConfig) *Builder {
	b := &Builder{
		store:   st,
		path:    cfg.Path,
		opts:    cfg.Classify,
		mirror:  cfg.Mirror,
		log:     cfg.Logger,
		now:     cfg.Now,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Path returns the index file path.
func (b *Builder) Path() string { return b.path }

// Mirror returns the SQLite mirror, or nil.
func (b *Builder) Mirror() *SQLiteMirror { return b.mirror }

// Build scans the store and returns a fresh index without persisting it.
// Unreadable shards are skipped and reported.
func (b *Builder) Build(ctx context.Context) (model.Index, []model.Skip, error) {
	now := b.now()
	idx := model.Index{}
	var skipped []model.Skip

	err := b.store.Scan(ctx, func(key string, s *model.Shard, err error) error {
		if err != nil {
			skipped = append(skipped, model.Skip{ID: key, Reason: err.Error()})
			return nil
		}
		idx[key] = Entry(key, s, now, b.opts)
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return idx, skipped, nil
}

// Entry projects one shard into its index entry. Entries are identified by
// storage key, the id every store operation accepts, even when the record's
// own shard_id differs.
func Entry(key string, s *model.Shard, now time.Time, opts ClassifyOptions) model.IndexEntry {
	e := model.IndexEntry{
		ID:              key,
		Filename:        key + ".json",
		GuidingQuestion: s.GuidingQuestion,
		Tags:            ClassifyShard(s, now, opts),
		Meta:            s.Meta,
		Topics:          []string{},
	}
	if s.Enrichment != nil {
		e.Summary = s.Enrichment.Summary
		if s.Enrichment.Topics != nil {
			e.Topics = s.Enrichment.Topics
		}
	}
	return e
}

// Rebuild builds the index and overwrites the persisted copy. Writers call
// this after mutating the store.
func (b *Builder) Rebuild(ctx context.Context) (*BuildResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rebuildLocked(ctx)
}

// Refresh is Rebuild for readers: concurrent callers share one in-flight rebuild.
func (b *Builder) Refresh(ctx context.Context) (*BuildResult, error) {
	v, err, _ := b.flight.Do("refresh", func() (any, error) {
		return b.Rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BuildResult), nil
}

func (b *Builder) rebuildLocked(ctx context.Context) (*BuildResult, error) {
	idx, skipped, err := b.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	res := &BuildResult{
		RunID:   ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String(),
		BuiltAt: b.now(),
		Index:   idx,
		Entries: len(idx),
		Skipped: skipped,
	}
	if err := b.save(idx); err != nil {
		return nil, err
	}
	if b.mirror != nil {
		if err := b.mirror.Sync(ctx, res); err != nil {
			return nil, fmt.Errorf("sync index mirror: %w", err)
		}
	}
	b.log.Info("index rebuilt",
		zap.String("run", res.RunID),
		zap.Int("entries", res.Entries),
		zap.Int("skipped", len(skipped)),
		zap.String("path", b.path))
	return res, nil
}

// Encode renders idx deterministically: map keys are sorted by encoding/json.
func Encode(idx model.Index) ([]byte, error) {
	return json.MarshalIndent(idx, "", "  ")
}

func (b *Builder) save(idx model.Index) error {
	if b.path == "" {
		return nil
	}
	data, err := Encode(idx)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// Load reads the persisted index. A legacy flat-list index or an unparsable
// file is reported through the status with a nil index; callers rebuild.
func (b *Builder) Load() (model.Index, LoadStatus, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, LoadMissing, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read index: %w", err)
	}
	return Decode(data)
}

// Decode parses index bytes, detecting the legacy {"shards": [...]} layout.
func Decode(data []byte) (model.Index, LoadStatus, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, LoadCorrupt, nil
	}
	if v, ok := raw["shards"]; ok {
		var list []json.RawMessage
		if json.Unmarshal(v, &list) == nil {
			return nil, LoadLegacy, nil
		}
	}
	idx := model.Index{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, LoadCorrupt, nil
	}
	return idx, LoadOK, nil
}

// Current returns an index according to the refresh policy.
func (b *Builder) Current(ctx context.Context, policy Refresh) (model.Index, error) {
	if policy == RefreshLazy {
		idx, status, err := b.Load()
		if err != nil {
			return nil, err
		}
		if status == LoadOK && len(idx) > 0 {
			return idx, nil
		}
		if status == LoadLegacy {
			b.log.Info("upgrading legacy index", zap.String("path", b.path))
		}
	}
	res, err := b.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return res.Index, nil
}
