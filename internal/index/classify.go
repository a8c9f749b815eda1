// Package index builds and persists the derived shard index: status tags,
// the JSON index file, an optional SQLite mirror, and a directory watcher that
// keeps it fresh.
package index

import (
	"time"

	"github.com/rcliao/shardmem/internal/model"
)

// ClassifyOptions holds the thresholds used to derive status tags.
type ClassifyOptions struct {
	RecentWindow      time.Duration // last_used newer than this is "recent"
	StaleWindow       time.Duration // last_used older than this is "stale"
	FrequentThreshold int           // usage_count above this is "frequently_used"
}

// DefaultClassifyOptions returns the 3 day / 14 day / 10 use thresholds.
func DefaultClassifyOptions() ClassifyOptions {
	return ClassifyOptions{
		RecentWindow:      72 * time.Hour,
		StaleWindow:       14 * 24 * time.Hour,
		FrequentThreshold: 10,
	}
}

// Classify derives status tags from a shard's meta and enrichment. An absent
// or unparsable last_used yields neither recent nor stale.
func Classify(meta model.Meta, enrichment *model.Enrichment, now time.Time, opts ClassifyOptions) []string {
	tags := []string{}

	if lastUsed, ok := model.ParseTime(meta.LastUsed); ok {
		age := now.Sub(lastUsed)
		if age < opts.RecentWindow {
			tags = append(tags, model.TagRecent)
		}
		if age > opts.StaleWindow {
			tags = append(tags, model.TagStale)
		}
	}

	if meta.UsageCount > opts.FrequentThreshold {
		tags = append(tags, model.TagFrequentlyUsed)
	}

	if meta.IsArchived() {
		tags = append(tags, model.TagArchived)
	}

	if enrichment != nil && len(enrichment.Embedding) > 0 {
		tags = append(tags, model.TagEnriched)
	}

	return tags
}

// ClassifyShard is Classify over a whole shard.
func ClassifyShard(s *model.Shard, now time.Time, opts ClassifyOptions) []string {
	return Classify(s.Meta, s.Enrichment, now, opts)
}
