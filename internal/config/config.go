// Package config loads shardmem settings from defaults, a YAML file, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rcliao/shardmem/internal/dedup"
	"github.com/rcliao/shardmem/internal/embedding"
	"github.com/rcliao/shardmem/internal/engine"
	"github.com/rcliao/shardmem/internal/index"
	"github.com/rcliao/shardmem/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. SHARDMEM_SHARD_DIR.
const EnvPrefix = "SHARDMEM"

type Config struct {
	ShardDir      string          `mapstructure:"shard_dir" json:"shard_dir"`
	IndexFile     string          `mapstructure:"index_file" json:"index_file"`
	IndexDB       string          `mapstructure:"index_db" json:"index_db"`
	Index         IndexConfig     `mapstructure:"index" json:"index"`
	Tags          TagsConfig      `mapstructure:"tags" json:"tags"`
	Relevance     RelevanceConfig `mapstructure:"relevance" json:"relevance"`
	Fragments     FragmentsConfig `mapstructure:"fragments" json:"fragments"`
	Dedup         DedupConfig     `mapstructure:"dedup" json:"dedup"`
	FallbackShard string          `mapstructure:"fallback_shard" json:"fallback_shard"`
	Enrich        EnrichConfig    `mapstructure:"enrich" json:"enrich"`
	Embed         EmbedConfig     `mapstructure:"embed" json:"embed"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" json:"file,omitempty"`
}

type IndexConfig struct {
	Refresh string `mapstructure:"refresh" json:"refresh"`
}

type TagsConfig struct {
	RecentWindow      time.Duration `mapstructure:"recent_window" json:"recent_window"`
	StaleWindow       time.Duration `mapstructure:"stale_window" json:"stale_window"`
	FrequentThreshold int           `mapstructure:"frequent_threshold" json:"frequent_threshold"`
}

type RelevanceConfig struct {
	Floor          float64 `mapstructure:"floor" json:"floor"`
	AutoSelectTopN int     `mapstructure:"auto_select_top_n" json:"auto_select_top_n"`
	MaxTopN        int     `mapstructure:"max_top_n" json:"max_top_n"`
}

type FragmentsConfig struct {
	Max     int    `mapstructure:"max" json:"max"`
	AILabel string `mapstructure:"ai_label" json:"ai_label"`
}

type DedupConfig struct {
	IgnoreTurnOrder bool `mapstructure:"ignore_turn_order" json:"ignore_turn_order"`
}

type EnrichConfig struct {
	Provider       string `mapstructure:"provider" json:"provider"`
	Model          string `mapstructure:"model" json:"model"`
	URL            string `mapstructure:"url" json:"url"`
	APIKey         string `mapstructure:"api_key" json:"-"`
	Concurrency    int    `mapstructure:"concurrency" json:"concurrency"`
	MaxPromptChars int    `mapstructure:"max_prompt_chars" json:"max_prompt_chars"`
}

type EmbedConfig struct {
	Provider string `mapstructure:"provider" json:"provider"`
	Model    string `mapstructure:"model" json:"model"`
	URL      string `mapstructure:"url" json:"url"`
	APIKey   string `mapstructure:"api_key" json:"-"`
}

var defaults = map[string]any{
	"shard_dir":                   "shards",
	"index_file":                  "shard_index.json",
	"index_db":                    "shard_index.db",
	"index.refresh":               string(index.RefreshAlways),
	"tags.recent_window":          "72h",
	"tags.stale_window":           "336h",
	"tags.frequent_threshold":     10,
	"relevance.floor":             0.1,
	"relevance.auto_select_top_n": 3,
	"relevance.max_top_n":         20,
	"fragments.max":               10,
	"fragments.ai_label":          "AI",
	"dedup.ignore_turn_order":     false,
	"fallback_shard":              "",
	"enrich.provider":             "",
	"enrich.model":                "gpt-4o-mini",
	"enrich.url":                  "",
	"enrich.api_key":              "",
	"enrich.concurrency":          2,
	"enrich.max_prompt_chars":     12000,
	"embed.provider":              "",
	"embed.model":                 "",
	"embed.url":                   "",
	"embed.api_key":               "",
}

// legacyEnv lists pre-existing environment names still honoured after the
// prefixed form.
var legacyEnv = map[string]string{
	"shard_dir":     "NOVA_SHARD_DIR",
	"index_file":    "NOVA_INDEX_FILE",
	"fragments.max": "NOVA_MAX_FRAGMENTS",
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"dir":      "shard_dir",
	"index":    "index_file",
	"index-db": "index_db",
}

// Load reads configuration. file may be empty, in which case $SHARDMEM_CONFIG
// and then ~/.shardmem/config.yaml are tried. flags may be nil; only flags the
// user set override other sources.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	path, explicit := configPath(file)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			path = ""
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = path
	cfg.ShardDir = expandHome(cfg.ShardDir)
	cfg.IndexFile = expandHome(cfg.IndexFile)
	cfg.IndexDB = expandHome(cfg.IndexDB)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configPath picks the file to read and reports whether the caller named it.
func configPath(file string) (string, bool) {
	if file != "" {
		return file, true
	}
	if env := os.Getenv(EnvPrefix + "_CONFIG"); env != "" {
		return env, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	p := filepath.Join(home, ".shardmem", "config.yaml")
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, false
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch index.Refresh(c.Index.Refresh) {
	case index.RefreshAlways, index.RefreshLazy:
	default:
		return fmt.Errorf("%w: index.refresh must be %q or %q, got %q",
			model.ErrValidation, index.RefreshAlways, index.RefreshLazy, c.Index.Refresh)
	}
	if c.ShardDir == "" {
		return fmt.Errorf("%w: shard_dir is empty", model.ErrValidation)
	}
	if c.Tags.RecentWindow <= 0 || c.Tags.StaleWindow <= 0 {
		return fmt.Errorf("%w: tag windows must be positive", model.ErrValidation)
	}
	if c.Relevance.Floor < 0 || c.Relevance.Floor > 1 {
		return fmt.Errorf("%w: relevance.floor must be within [0, 1], got %v", model.ErrValidation, c.Relevance.Floor)
	}
	if c.Relevance.MaxTopN < 1 || c.Relevance.AutoSelectTopN < 1 {
		return fmt.Errorf("%w: relevance top_n limits must be at least 1", model.ErrValidation)
	}
	return nil
}

// ClassifyOptions returns the tag classifier settings.
func (c *Config) ClassifyOptions() index.ClassifyOptions {
	return index.ClassifyOptions{
		RecentWindow:      c.Tags.RecentWindow,
		StaleWindow:       c.Tags.StaleWindow,
		FrequentThreshold: c.Tags.FrequentThreshold,
	}
}

// EngineConfig returns the engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Refresh:        index.Refresh(c.Index.Refresh),
		Classify:       c.ClassifyOptions(),
		Floor:          c.Relevance.Floor,
		AutoSelectTopN: c.Relevance.AutoSelectTopN,
		MaxTopN:        c.Relevance.MaxTopN,
		MaxFragments:   c.Fragments.Max,
		AILabel:        c.Fragments.AILabel,
		Dedup:          dedup.Options{IgnoreTurnOrder: c.Dedup.IgnoreTurnOrder},
		FallbackShard:  c.FallbackShard,
	}
}

// EmbeddingConfig returns the embedder settings.
func (c *Config) EmbeddingConfig() embedding.Config {
	return embedding.Config{
		Provider: c.Embed.Provider,
		Model:    c.Embed.Model,
		URL:      c.Embed.URL,
		APIKey:   c.Embed.APIKey,
	}
}
