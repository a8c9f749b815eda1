// Package store provides the shard storage interface and a file-per-shard implementation.
package store

import (
	"context"

	"github.com/rcliao/shardmem/internal/model"
)

// AppendParams holds parameters for appending a turn to a shard.
type AppendParams struct {
	ID   string
	User string
	AI   string
}

// ScanFunc receives each stored record in key order. err is non-nil when the
// record could not be read or decoded; returning an error stops the scan.
type ScanFunc func(key string, s *model.Shard, err error) error

// Store defines the shard storage interface.
//
// Get, Put and Write do not take the per-shard lock; callers that
// read-modify-write through them must hold Lock for the ids involved. Append,
// Touch and Update lock internally. Shards are addressed by storage key; the
// shard_id inside a record is never rewritten to match it.
//
// Lock order: per-shard locks first, then the id allocation lock held by
// Create and Import.
type Store interface {
	// Get loads a shard by id.
	Get(ctx context.Context, id string) (*model.Shard, error)

	// Put writes s under s.ID, replacing any existing record.
	Put(ctx context.Context, s *model.Shard) error

	// Write replaces the record stored under key with s. s.ID is written as
	// is, so a record whose shard_id differs from its key keeps it.
	Write(ctx context.Context, key string, s *model.Shard) error

	// Create writes s under a fresh id derived from base and returns it.
	Create(ctx context.Context, base string, s *model.Shard) (*model.Shard, error)

	// Append adds one turn stamped now and bumps usage.
	Append(ctx context.Context, p AppendParams) (*model.Shard, error)

	// Touch bumps usage_count and last_used.
	Touch(ctx context.Context, id string) (*model.Shard, error)

	// Update applies fn to the stored shard under its lock and persists the result.
	// Nothing is written when fn returns an error.
	Update(ctx context.Context, id string, fn func(*model.Shard) error) (*model.Shard, error)

	// Delete removes a shard record.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a record exists for id.
	Exists(ctx context.Context, id string) (bool, error)

	// Keys lists storage keys in lexicographic order.
	Keys(ctx context.Context) ([]string, error)

	// Scan visits every record in key order.
	Scan(ctx context.Context, fn ScanFunc) error

	// ExportAll returns every readable shard in key order with the unreadable ones reported.
	ExportAll(ctx context.Context) ([]*model.Shard, []model.Skip, error)

	// Import writes shards under their own ids, skipping ids that already exist.
	Import(ctx context.Context, shards []*model.Shard) (int, []model.Skip, error)

	// Lock acquires the per-shard locks for ids and returns the release func.
	Lock(ids ...string) (unlock func())

	// Close releases resources held by the store.
	Close() error
}
