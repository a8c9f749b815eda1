// Package model defines the core shard data types.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Status tags derived from a shard's usage metadata and enrichment state.
const (
	TagRecent         = "recent"
	TagStale          = "stale"
	TagFrequentlyUsed = "frequently_used"
	TagArchived       = "archived"
	TagEnriched       = "enriched"
)

// Well-known intents.
const (
	IntentArchived      = "archived"
	IntentMetaSynthesis = "meta_synthesis"
	IntentPlaceholder   = "placeholder_generation"
)

// Turn is one exchange in a shard's conversation history.
type Turn struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	AI        string `json:"ai"`
}

// Enrichment is the externally produced summary of a shard.
type Enrichment struct {
	Summary          string    `json:"summary"`
	Topics           []string  `json:"topics"`
	ConversationType string    `json:"conversation_type,omitempty"`
	Embedding        []float64 `json:"embedding"`
	UpdatedAt        string    `json:"last_context_update,omitempty"`
}

// Shard is a persisted unit of conversational memory.
type Shard struct {
	ID              string      `json:"shard_id"`
	GuidingQuestion string      `json:"guiding_question"`
	History         []Turn      `json:"conversation_history"`
	Meta            Meta        `json:"meta_tags"`
	Enrichment      *Enrichment `json:"context,omitempty"`

	// Pairs is the trimmed content-pair projection of the history as it was
	// read from storage. Nil when the record carried no recognised history field.
	Pairs [][2]string `json:"-"`

	// Extra holds top-level fields this package does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

// Embedding returns the shard-level embedding, or nil.
func (s *Shard) Embedding() []float64 {
	if s.Enrichment == nil {
		return nil
	}
	return s.Enrichment.Embedding
}

// MarshalJSON writes the canonical schema, preserving unknown top-level fields.
func (s Shard) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+5)
	for k, v := range s.Extra {
		out[k] = v
	}
	history := s.History
	if history == nil {
		history = []Turn{}
	}
	out["shard_id"] = s.ID
	out["guiding_question"] = s.GuidingQuestion
	out["conversation_history"] = history
	out["meta_tags"] = s.Meta
	if s.Enrichment != nil {
		out["context"] = s.Enrichment
	}
	return json.Marshal(out)
}

// IndexEntry is the denormalized, searchable projection of one shard.
type IndexEntry struct {
	ID              string   `json:"shard_id"`
	Filename        string   `json:"filename"`
	GuidingQuestion string   `json:"guiding_question"`
	Tags            []string `json:"tags"`
	Meta            Meta     `json:"meta"`
	Summary         string   `json:"context_summary"`
	Topics          []string `json:"context_topics"`
}

// HasTag reports whether the entry carries tag.
func (e IndexEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Index maps shard id to its entry. It is a cache, never a source of truth.
type Index map[string]IndexEntry

// Skip records an item a batch operation could not process.
type Skip struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// timeLayouts are tried in order by ParseTime. Naive layouts are read as local time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses the ISO-8601 variants found in shard files.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t the way shard timestamps are written.
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000Z07:00")
}
