package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

var testNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.Local)

func newTestBuilder(t *testing.T, mirror *SQLiteMirror) (*store.FileStore, *Builder) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFileStore(filepath.Join(dir, "shards"))
	require.NoError(t, err)
	b := NewBuilder(st, BuilderConfig{
		Path:     filepath.Join(dir, "shard_index.json"),
		Classify: DefaultClassifyOptions(),
		Mirror:   mirror,
		Now:      func() time.Time { return testNow },
	})
	return st, b
}

func put(t *testing.T, st store.Store, sh *model.Shard) {
	t.Helper()
	require.NoError(t, st.Put(context.Background(), sh))
}

func ago(d time.Duration) string { return model.FormatTime(testNow.Add(-d)) }

func TestClassify(t *testing.T) {
	opts := DefaultClassifyOptions()
	tests := []struct {
		name string
		meta model.Meta
		enr  *model.Enrichment
		want []string
	}{
		{"recent", model.Meta{LastUsed: ago(time.Hour)}, nil, []string{"recent"}},
		{"middle", model.Meta{LastUsed: ago(5 * 24 * time.Hour)}, nil, []string{}},
		{"stale", model.Meta{LastUsed: ago(20 * 24 * time.Hour)}, nil, []string{"stale"}},
		{"no timestamp", model.Meta{}, nil, []string{}},
		{"garbage timestamp", model.Meta{LastUsed: "yesterday-ish"}, nil, []string{}},
		{"frequent boundary", model.Meta{UsageCount: 10}, nil, []string{}},
		{"frequent", model.Meta{UsageCount: 11}, nil, []string{"frequently_used"}},
		{"archived", model.Meta{Intent: model.IntentArchived}, nil, []string{"archived"}},
		{"enriched", model.Meta{}, &model.Enrichment{Embedding: []float64{0.1}}, []string{"enriched"}},
		{"summary only", model.Meta{}, &model.Enrichment{Summary: "s"}, []string{}},
		{
			"all at once",
			model.Meta{LastUsed: ago(time.Minute), UsageCount: 50, Intent: model.IntentArchived},
			&model.Enrichment{Embedding: []float64{1}},
			[]string{"recent", "frequently_used", "archived", "enriched"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.meta, tt.enr, testNow, opts)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Classify() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildSkipsCorruptShard(t *testing.T) {
	st, b := newTestBuilder(t, nil)
	put(t, st, &model.Shard{ID: "a", GuidingQuestion: "alpha"})
	require.NoError(t, os.WriteFile(st.Path("broken"), []byte("{nope"), 0o644))

	idx, skipped, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, idx, 1)
	require.Len(t, skipped, 1)
	assert.Equal(t, "broken", skipped[0].ID)
}

func TestBuildKeysByStorageKey(t *testing.T) {
	st, b := newTestBuilder(t, nil)
	require.NoError(t, os.WriteFile(st.Path("a"), []byte(`{"shard_id": "other", "guiding_question": "alpha"}`), 0o644))

	idx, _, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Contains(t, idx, "a")
	assert.NotContains(t, idx, "other")
	assert.Equal(t, "a", idx["a"].ID)
	assert.Equal(t, "a.json", idx["a"].Filename)
}

func TestEntryProjection(t *testing.T) {
	sh := &model.Shard{
		ID:              "x",
		GuidingQuestion: "q",
		Meta:            model.Meta{Theme: "t", UsageCount: 2},
		Enrichment:      &model.Enrichment{Summary: "sum", Topics: []string{"a", "b"}},
	}
	want := model.IndexEntry{
		ID:              "x",
		Filename:        "x.json",
		GuidingQuestion: "q",
		Tags:            []string{},
		Meta:            model.Meta{Theme: "t", UsageCount: 2},
		Summary:         "sum",
		Topics:          []string{"a", "b"},
	}
	got := Entry("x", sh, testNow, DefaultClassifyOptions())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entry() mismatch (-want +got):\n%s", diff)
	}

	bare := Entry("y", &model.Shard{ID: "y"}, testNow, DefaultClassifyOptions())
	assert.NotNil(t, bare.Topics)
	assert.NotNil(t, bare.Tags)
}

func TestRebuildIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	st, b := newTestBuilder(t, nil)
	put(t, st, &model.Shard{ID: "b", GuidingQuestion: "beta", Meta: model.Meta{UsageCount: 12}})
	put(t, st, &model.Shard{ID: "a", GuidingQuestion: "alpha", Meta: model.Meta{LastUsed: ago(time.Hour)}})

	_, err := b.Rebuild(ctx)
	require.NoError(t, err)
	first, err := os.ReadFile(b.Path())
	require.NoError(t, err)

	_, err = b.Rebuild(ctx)
	require.NoError(t, err)
	second, err := os.ReadFile(b.Path())
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.NotContains(t, string(first), `"tags": null`)

	idx, status, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, LoadOK, status)
	assert.Equal(t, []string{"frequently_used"}, idx["b"].Tags)
	assert.Equal(t, []string{"recent"}, idx["a"].Tags)
}

func TestDecodeStatuses(t *testing.T) {
	_, status, err := Decode([]byte(`{"shards": [{"shard_id": "a"}]}`))
	require.NoError(t, err)
	assert.Equal(t, LoadLegacy, status)

	_, status, _ = Decode([]byte(`[1, 2`))
	assert.Equal(t, LoadCorrupt, status)

	_, status, _ = Decode([]byte(`{"a": 5}`))
	assert.Equal(t, LoadCorrupt, status)

	idx, status, _ := Decode([]byte(`{"a": {"shard_id": "a", "filename": "a.json", "tags": []}}`))
	assert.Equal(t, LoadOK, status)
	assert.Equal(t, "a.json", idx["a"].Filename)
}

func TestLazyUpgradesLegacyIndex(t *testing.T) {
	ctx := context.Background()
	st, b := newTestBuilder(t, nil)
	put(t, st, &model.Shard{ID: "a", GuidingQuestion: "alpha"})
	require.NoError(t, os.WriteFile(b.Path(), []byte(`{"shards": [{"shard_id": "stale"}]}`), 0o644))

	idx, err := b.Current(ctx, RefreshLazy)
	require.NoError(t, err)
	assert.Contains(t, idx, "a")

	_, status, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, LoadOK, status)
}

func TestLazyTrustsPersistedIndex(t *testing.T) {
	ctx := context.Background()
	st, b := newTestBuilder(t, nil)
	put(t, st, &model.Shard{ID: "a"})
	_, err := b.Rebuild(ctx)
	require.NoError(t, err)

	// Written after the rebuild: visible only to an always-refresh read.
	put(t, st, &model.Shard{ID: "b"})

	lazy, err := b.Current(ctx, RefreshLazy)
	require.NoError(t, err)
	assert.NotContains(t, lazy, "b")

	fresh, err := b.Current(ctx, RefreshAlways)
	require.NoError(t, err)
	assert.Contains(t, fresh, "b")
}

func TestMirrorSyncListLineageStats(t *testing.T) {
	ctx := context.Background()
	mirror, err := OpenSQLiteMirror(filepath.Join(t.TempDir(), "shard_index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mirror.Close() })

	st, b := newTestBuilder(t, mirror)
	put(t, st, &model.Shard{ID: "a", Meta: model.Meta{Intent: model.IntentArchived, Theme: "work"}})
	put(t, st, &model.Shard{ID: "b", Meta: model.Meta{Intent: model.IntentArchived, Theme: "work"}})
	put(t, st, &model.Shard{ID: "meta_ab", Meta: model.Meta{
		Intent:     model.IntentMetaSynthesis,
		Theme:      "work",
		MergedFrom: []string{"a", "b"},
		UsageCount: 11,
	}})

	res, err := b.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Entries)

	archived, err := mirror.List(ctx, ListParams{Tag: model.TagArchived})
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, "a", archived[0].ID)
	assert.Equal(t, "b", archived[1].ID)

	frequent, err := mirror.List(ctx, ListParams{Intent: model.IntentMetaSynthesis})
	require.NoError(t, err)
	require.Len(t, frequent, 1)
	assert.Equal(t, []string{"a", "b"}, frequent[0].Meta.MergedFrom)
	assert.Equal(t, []string{"frequently_used"}, frequent[0].Tags)

	lin, err := mirror.Lineage(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"meta_ab"}, lin.MergedInto)
	assert.Empty(t, lin.MergedFrom)

	lin, err = mirror.Lineage(ctx, "meta_ab")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lin.MergedFrom)

	// A second sync replaces rather than accumulates.
	_, err = b.Rebuild(ctx)
	require.NoError(t, err)

	stats, err := mirror.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalShards)
	assert.Equal(t, 2, stats.ArchivedShards)
	assert.Equal(t, 2, stats.MergeLinks)
	require.NotNil(t, stats.LastRebuild)
	assert.Equal(t, 3, stats.LastRebuild.Entries)
	assert.Equal(t, []CountStats{{Name: "work", Count: 3}}, stats.Themes)
}
