package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/shardmem/internal/index"
	"github.com/rcliao/shardmem/internal/model"
)

// isolate keeps the developer's home directory and environment out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"SHARDMEM_CONFIG", "SHARDMEM_SHARD_DIR", "SHARDMEM_INDEX_FILE", "SHARDMEM_FRAGMENTS_MAX",
		"SHARDMEM_INDEX_REFRESH", "SHARDMEM_RELEVANCE_FLOOR",
		"NOVA_SHARD_DIR", "NOVA_INDEX_FILE", "NOVA_MAX_FRAGMENTS",
	} {
		t.Setenv(k, "")
	}
	return home
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "shards", cfg.ShardDir)
	assert.Equal(t, "shard_index.json", cfg.IndexFile)
	assert.Equal(t, "shard_index.db", cfg.IndexDB)
	assert.Equal(t, string(index.RefreshAlways), cfg.Index.Refresh)
	assert.Equal(t, 72*time.Hour, cfg.Tags.RecentWindow)
	assert.Equal(t, 336*time.Hour, cfg.Tags.StaleWindow)
	assert.Equal(t, 10, cfg.Tags.FrequentThreshold)
	assert.Equal(t, 0.1, cfg.Relevance.Floor)
	assert.Equal(t, 3, cfg.Relevance.AutoSelectTopN)
	assert.Equal(t, 20, cfg.Relevance.MaxTopN)
	assert.Equal(t, 10, cfg.Fragments.Max)
	assert.Equal(t, "AI", cfg.Fragments.AILabel)
	assert.Equal(t, 2, cfg.Enrich.Concurrency)
	assert.Equal(t, 12000, cfg.Enrich.MaxPromptChars)
	assert.Empty(t, cfg.File)
}

func TestLoadHomeConfigFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".shardmem")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := writeConfig(t, dir, "fallback_shard: memory_patch\n")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, p, cfg.File)
	assert.Equal(t, "memory_patch", cfg.FallbackShard)
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)
	p := writeConfig(t, t.TempDir(), `
shard_dir: fromfile
index_file: file_index.json
tags:
  recent_window: 24h
relevance:
  floor: 0.3
`)
	t.Setenv("SHARDMEM_SHARD_DIR", "fromenv")

	cfg, err := Load(p, nil)
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.ShardDir)
	assert.Equal(t, "file_index.json", cfg.IndexFile)
	assert.Equal(t, 24*time.Hour, cfg.Tags.RecentWindow)
	assert.Equal(t, 0.3, cfg.Relevance.Floor)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("dir", "", "")
	flags.String("index", "", "")
	require.NoError(t, flags.Parse([]string{"--dir", "fromflag"}))

	cfg, err = Load(p, flags)
	require.NoError(t, err)
	assert.Equal(t, "fromflag", cfg.ShardDir)
	assert.Equal(t, "file_index.json", cfg.IndexFile, "unset flags do not override")
}

func TestLoadLegacyEnv(t *testing.T) {
	isolate(t)
	t.Setenv("NOVA_SHARD_DIR", "legacy_shards")
	t.Setenv("NOVA_MAX_FRAGMENTS", "4")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "legacy_shards", cfg.ShardDir)
	assert.Equal(t, 4, cfg.Fragments.Max)

	t.Setenv("SHARDMEM_SHARD_DIR", "prefixed")
	cfg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.ShardDir)
}

func TestLoadErrors(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	t.Setenv("SHARDMEM_INDEX_REFRESH", "sometimes")
	_, err = Load("", nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	t.Setenv("SHARDMEM_INDEX_REFRESH", "")
	t.Setenv("SHARDMEM_RELEVANCE_FLOOR", "1.5")
	_, err = Load("", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEngineConfig(t *testing.T) {
	isolate(t)
	p := writeConfig(t, t.TempDir(), `
index:
  refresh: lazy
dedup:
  ignore_turn_order: true
fragments:
  ai_label: NOVA
fallback_shard: patch
`)
	cfg, err := Load(p, nil)
	require.NoError(t, err)

	ec := cfg.EngineConfig()
	assert.Equal(t, index.RefreshLazy, ec.Refresh)
	assert.True(t, ec.Dedup.IgnoreTurnOrder)
	assert.Equal(t, "NOVA", ec.AILabel)
	assert.Equal(t, "patch", ec.FallbackShard)
	assert.Equal(t, index.DefaultClassifyOptions(), ec.Classify)
}
