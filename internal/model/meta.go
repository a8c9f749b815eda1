package model

import "encoding/json"

// Meta is a shard's usage metadata (the "meta_tags" object on disk).
type Meta struct {
	Intent          string
	Theme           string
	UsageCount      int
	LastUsed        string
	ArchivedAt      string
	MergedFrom      []string
	SourceQuestions []string

	// Extra holds fields this package does not interpret, round-tripped as-is.
	Extra map[string]json.RawMessage
}

// IsArchived reports whether the shard has been archived.
func (m Meta) IsArchived() bool { return m.Intent == IntentArchived }

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	c := m
	c.MergedFrom = append([]string(nil), m.MergedFrom...)
	c.SourceQuestions = append([]string(nil), m.SourceQuestions...)
	if m.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON writes known fields over any extras. Map output keeps key order stable.
func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+7)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["intent"] = m.Intent
	out["theme"] = m.Theme
	out["usage_count"] = m.UsageCount
	if m.LastUsed != "" {
		out["last_used"] = m.LastUsed
	} else {
		out["last_used"] = nil
	}
	if m.ArchivedAt != "" {
		out["archived_at"] = m.ArchivedAt
	}
	if len(m.MergedFrom) > 0 {
		out["merged_from"] = m.MergedFrom
	}
	if len(m.SourceQuestions) > 0 {
		out["source_questions"] = m.SourceQuestions
	}
	return json.Marshal(out)
}

// UnmarshalJSON is lenient: a known field with an unexpected type is treated as absent.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Meta{}
	for k, v := range raw {
		switch k {
		case "intent":
			_ = json.Unmarshal(v, &m.Intent)
		case "theme":
			_ = json.Unmarshal(v, &m.Theme)
		case "usage_count":
			var n float64
			if json.Unmarshal(v, &n) == nil && n > 0 {
				m.UsageCount = int(n)
			}
		case "last_used":
			_ = json.Unmarshal(v, &m.LastUsed)
		case "archived_at":
			_ = json.Unmarshal(v, &m.ArchivedAt)
		case "merged_from":
			_ = json.Unmarshal(v, &m.MergedFrom)
		case "source_questions":
			_ = json.Unmarshal(v, &m.SourceQuestions)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[k] = v
		}
	}
	return nil
}
