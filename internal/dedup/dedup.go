// Package dedup finds shards whose conversation content is identical.
package dedup

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

// Options controls fingerprinting.
type Options struct {
	// IgnoreTurnOrder sorts content pairs before hashing, so the same turns in
	// a different order fingerprint identically. Off by default.
	IgnoreTurnOrder bool
}

// Pair is a duplicate and the original it repeats.
type Pair struct {
	Duplicate string `json:"duplicate"`
	Original  string `json:"original"`
}

// Report is the outcome of a duplicate scan.
type Report struct {
	Scanned  int          `json:"scanned"`
	Pairs    []Pair       `json:"pairs"`
	Excluded []string     `json:"excluded,omitempty"` // no recognised history field
	Skipped  []model.Skip `json:"skipped,omitempty"`  // unreadable
}

// Fingerprint hashes a shard's trimmed content pairs. ok is false when pairs
// is nil, meaning the shard carried no recognised history field; such a shard
// never matches anything. A present but empty history hashes like any other,
// so empty shards are duplicates of each other.
func Fingerprint(pairs [][2]string, opts Options) (sum uint64, ok bool) {
	if pairs == nil {
		return 0, false
	}
	if opts.IgnoreTurnOrder {
		sorted := make([][2]string, len(pairs))
		copy(sorted, pairs)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i][0] != sorted[j][0] {
				return sorted[i][0] < sorted[j][0]
			}
			return sorted[i][1] < sorted[j][1]
		})
		pairs = sorted
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return 0, false
	}
	return xxhash.Sum64(data), true
}

// Find scans st in key order. The first shard seen with a fingerprint is the
// original; every later match is reported as its duplicate. Nothing is deleted.
func Find(ctx context.Context, st store.Store, opts Options) (*Report, error) {
	rep := &Report{Pairs: []Pair{}}
	seen := make(map[uint64]string)

	err := st.Scan(ctx, func(key string, s *model.Shard, err error) error {
		if err != nil {
			rep.Skipped = append(rep.Skipped, model.Skip{ID: key, Reason: err.Error()})
			return nil
		}
		rep.Scanned++
		sum, ok := Fingerprint(s.Pairs, opts)
		if !ok {
			rep.Excluded = append(rep.Excluded, key)
			return nil
		}
		if orig, dup := seen[sum]; dup {
			rep.Pairs = append(rep.Pairs, Pair{Duplicate: key, Original: orig})
			return nil
		}
		seen[sum] = key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}
