package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/shardmem/internal/model"
)

// RelMergedFrom links a meta shard to one of the shards it was merged from.
const RelMergedFrom = "merged_from"

// SQLiteMirror is a queryable copy of the index. It is rewritten wholesale on
// every rebuild and never consulted as the source of truth.
type SQLiteMirror struct {
	db   *sql.DB
	path string
}

// OpenSQLiteMirror opens or creates the mirror database at path.
func OpenSQLiteMirror(path string) (*SQLiteMirror, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	m := &SQLiteMirror{db: db, path: path}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

func (m *SQLiteMirror) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS shards (
		id               TEXT PRIMARY KEY,
		filename         TEXT NOT NULL,
		guiding_question TEXT NOT NULL DEFAULT '',
		intent           TEXT NOT NULL DEFAULT '',
		theme            TEXT NOT NULL DEFAULT '',
		usage_count      INTEGER NOT NULL DEFAULT 0,
		last_used        TEXT,
		archived_at      TEXT,
		summary          TEXT NOT NULL DEFAULT '',
		topics           TEXT,
		tags             TEXT,
		meta             TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_shards_theme ON shards(theme);
	CREATE INDEX IF NOT EXISTS idx_shards_intent ON shards(intent);

	CREATE TABLE IF NOT EXISTS shard_tags (
		shard_id TEXT NOT NULL,
		tag      TEXT NOT NULL,
		PRIMARY KEY (shard_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_shard_tags_tag ON shard_tags(tag);

	CREATE TABLE IF NOT EXISTS shard_links (
		from_id TEXT NOT NULL,
		to_id   TEXT NOT NULL,
		rel     TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_shard_links_to ON shard_links(to_id);

	CREATE TABLE IF NOT EXISTS rebuilds (
		run_id   TEXT PRIMARY KEY,
		built_at TEXT NOT NULL,
		entries  INTEGER NOT NULL,
		skipped  INTEGER NOT NULL
	);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Sync replaces the mirror contents with the index in res.
func (m *SQLiteMirror) Sync(ctx context.Context, res *BuildResult) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"shards", "shard_tags", "shard_links"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for id, e := range res.Index {
		tagsJSON, _ := json.Marshal(e.Tags)
		topicsJSON, _ := json.Marshal(e.Topics)
		metaJSON, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode meta %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO shards (id, filename, guiding_question, intent, theme, usage_count,
			                     last_used, archived_at, summary, topics, tags, meta)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.Filename, e.GuidingQuestion, e.Meta.Intent, e.Meta.Theme, e.Meta.UsageCount,
			nullIfEmpty(e.Meta.LastUsed), nullIfEmpty(e.Meta.ArchivedAt),
			e.Summary, string(topicsJSON), string(tagsJSON), string(metaJSON))
		if err != nil {
			return fmt.Errorf("insert shard %s: %w", id, err)
		}
		for _, tag := range e.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO shard_tags (shard_id, tag) VALUES (?, ?)`, id, tag); err != nil {
				return fmt.Errorf("insert tag %s: %w", id, err)
			}
		}
		for _, src := range e.Meta.MergedFrom {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO shard_links (from_id, to_id, rel) VALUES (?, ?, ?)`,
				id, src, RelMergedFrom); err != nil {
				return fmt.Errorf("insert link %s: %w", id, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rebuilds (run_id, built_at, entries, skipped) VALUES (?, ?, ?, ?)`,
		res.RunID, res.BuiltAt.UTC().Format(time.RFC3339), res.Entries, len(res.Skipped))
	if err != nil {
		return fmt.Errorf("record rebuild: %w", err)
	}

	return tx.Commit()
}

// ListParams filters mirror listings. Empty fields match everything.
type ListParams struct {
	Tag    string
	Theme  string
	Intent string
	Limit  int // DefaultListLimit when not positive
}

// DefaultListLimit caps List results when no limit is given.
const DefaultListLimit = 50

// List returns index entries ordered by id.
func (m *SQLiteMirror) List(ctx context.Context, p ListParams) ([]model.IndexEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	where := []string{"1 = 1"}
	var args []interface{}
	if p.Tag != "" {
		where = append(where, "s.id IN (SELECT shard_id FROM shard_tags WHERE tag = ?)")
		args = append(args, p.Tag)
	}
	if p.Theme != "" {
		where = append(where, "s.theme = ?")
		args = append(args, p.Theme)
	}
	if p.Intent != "" {
		where = append(where, "s.intent = ?")
		args = append(args, p.Intent)
	}

	query := fmt.Sprintf(`
		SELECT s.id, s.filename, s.guiding_question, s.summary, s.topics, s.tags, s.meta
		FROM shards s
		WHERE %s
		ORDER BY s.id
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.IndexEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.IndexEntry, error) {
	var e model.IndexEntry
	var topics, tags, meta sql.NullString
	if err := row.Scan(&e.ID, &e.Filename, &e.GuidingQuestion, &e.Summary, &topics, &tags, &meta); err != nil {
		return e, err
	}
	e.Tags = []string{}
	e.Topics = []string{}
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &e.Tags)
	}
	if topics.Valid {
		json.Unmarshal([]byte(topics.String), &e.Topics)
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
			return e, fmt.Errorf("decode meta %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// Lineage describes merge relations around one shard.
type Lineage struct {
	ID         string   `json:"id"`
	MergedFrom []string `json:"merged_from"`
	MergedInto []string `json:"merged_into"`
}

// Lineage returns the shards id was merged from and the meta shards it was merged into.
func (m *SQLiteMirror) Lineage(ctx context.Context, id string) (*Lineage, error) {
	l := &Lineage{ID: id, MergedFrom: []string{}, MergedInto: []string{}}

	from, err := m.linked(ctx, `SELECT to_id FROM shard_links WHERE from_id = ? AND rel = ? ORDER BY to_id`, id)
	if err != nil {
		return nil, err
	}
	into, err := m.linked(ctx, `SELECT from_id FROM shard_links WHERE to_id = ? AND rel = ? ORDER BY from_id`, id)
	if err != nil {
		return nil, err
	}
	l.MergedFrom = append(l.MergedFrom, from...)
	l.MergedInto = append(l.MergedInto, into...)
	return l, nil
}

func (m *SQLiteMirror) linked(ctx context.Context, query, id string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query, id, RelMergedFrom)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		ids = append(ids, s)
	}
	return ids, rows.Err()
}

// Stats holds mirror statistics.
type Stats struct {
	DBPath         string       `json:"db_path"`
	DBSizeBytes    int64        `json:"db_size_bytes"`
	TotalShards    int          `json:"total_shards"`
	ArchivedShards int          `json:"archived_shards"`
	MergeLinks     int          `json:"merge_links"`
	Tags           []CountStats `json:"tags"`
	Themes         []CountStats `json:"themes"`
	LastRebuild    *RebuildInfo `json:"last_rebuild,omitempty"`
}

// CountStats is a label with a count.
type CountStats struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RebuildInfo describes the most recent recorded rebuild.
type RebuildInfo struct {
	RunID   string `json:"run_id"`
	BuiltAt string `json:"built_at"`
	Entries int    `json:"entries"`
	Skipped int    `json:"skipped"`
}

// Stats returns mirror statistics.
func (m *SQLiteMirror) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: m.path, Tags: []CountStats{}, Themes: []CountStats{}}

	if info, err := os.Stat(m.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shards`).Scan(&st.TotalShards)
	m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shards WHERE intent = ?`, model.IntentArchived).Scan(&st.ArchivedShards)
	m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shard_links`).Scan(&st.MergeLinks)

	var err error
	st.Tags, err = m.counts(ctx, `SELECT tag, COUNT(*) AS cnt FROM shard_tags GROUP BY tag ORDER BY cnt DESC, tag`)
	if err != nil {
		return st, err
	}
	st.Themes, err = m.counts(ctx, `SELECT theme, COUNT(*) AS cnt FROM shards WHERE theme != '' GROUP BY theme ORDER BY cnt DESC, theme`)
	if err != nil {
		return st, err
	}

	var r RebuildInfo
	err = m.db.QueryRowContext(ctx,
		`SELECT run_id, built_at, entries, skipped FROM rebuilds ORDER BY rowid DESC LIMIT 1`).
		Scan(&r.RunID, &r.BuiltAt, &r.Entries, &r.Skipped)
	if err == nil {
		st.LastRebuild = &r
	}

	return st, nil
}

func (m *SQLiteMirror) counts(ctx context.Context, query string) ([]CountStats, error) {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CountStats{}
	for rows.Next() {
		var c CountStats
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
