// Package cli implements the shardmem CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/config"
	"github.com/rcliao/shardmem/internal/embedding"
	"github.com/rcliao/shardmem/internal/engine"
	"github.com/rcliao/shardmem/internal/enrich"
	"github.com/rcliao/shardmem/internal/index"
	"github.com/rcliao/shardmem/internal/store"
)

var (
	configFile string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "shardmem",
	Short: "Shard memory index and retrieval",
	Long:  "Conversational memory kept as one JSON file per shard, with a derived index for tagging, search, merge and dedup.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: $SHARDMEM_CONFIG or ~/.shardmem/config.yaml)")
	RootCmd.PersistentFlags().StringP("dir", "d", "", "Shard directory (default: shards)")
	RootCmd.PersistentFlags().String("index", "", "Index file (default: shard_index.json)")
	RootCmd.PersistentFlags().String("index-db", "", "SQLite index mirror; empty config value disables it")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Development logging")
}

// app holds everything a command needs; close releases it.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *store.FileStore
	mirror *index.SQLiteMirror
	engine *engine.Engine
}

func newLogger() *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if verbose {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	log := newLogger()

	st, err := store.NewFileStore(cfg.ShardDir, store.WithLogger(log.Named("store")))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: st}
	if cfg.IndexDB != "" {
		a.mirror, err = index.OpenSQLiteMirror(cfg.IndexDB)
		if err != nil {
			return nil, err
		}
	}

	builder := index.NewBuilder(st, index.BuilderConfig{
		Path:     cfg.IndexFile,
		Classify: cfg.ClassifyOptions(),
		Mirror:   a.mirror,
		Logger:   log.Named("index"),
	})

	opts := []engine.Option{engine.WithLogger(log.Named("engine"))}
	emb, err := embedding.New(cfg.EmbeddingConfig())
	if err != nil {
		a.close()
		return nil, err
	}
	if emb != nil {
		opts = append(opts, engine.WithEmbedder(emb))
	}
	if cfg.Enrich.Provider != "" {
		en, err := newEnricher(cfg, st, emb, log)
		if err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, engine.WithEnricher(en))
	}

	a.engine = engine.New(st, builder, cfg.EngineConfig(), opts...)
	return a, nil
}

func newEnricher(cfg *config.Config, st store.Store, emb embedding.Embedder, log *zap.Logger) (*enrich.Enricher, error) {
	var sum enrich.Summarizer
	switch cfg.Enrich.Provider {
	case "openai":
		sum = enrich.NewOpenAISummarizer(cfg.Enrich.URL, cfg.Enrich.APIKey, cfg.Enrich.Model)
	default:
		return nil, fmt.Errorf("unknown enrich provider %q", cfg.Enrich.Provider)
	}
	return enrich.New(st, sum, emb, enrich.Config{
		Concurrency:    cfg.Enrich.Concurrency,
		MaxPromptChars: cfg.Enrich.MaxPromptChars,
		AILabel:        cfg.Fragments.AILabel,
		Logger:         log.Named("enrich"),
	})
}

func (a *app) close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	a.store.Close()
	a.log.Sync()
}

func mustOpen(cmd *cobra.Command) *app {
	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	return a
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
