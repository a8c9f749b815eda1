package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/shardmem/internal/model"
)

// legacyMessage is one entry of the older "messages" history schema.
type legacyMessage struct {
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// DecodeShard parses a stored record into the canonical Shard. Both history
// schemas ("conversation_history" with user/ai, and "messages" with
// author/content) are accepted; the result always carries History and, when a
// history field was present, the trimmed (user, ai) content pairs.
func DecodeShard(data []byte) (*model.Shard, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCorrupt, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", model.ErrCorrupt)
	}

	s := &model.Shard{}
	var (
		history     []model.Turn
		messages    []legacyMessage
		hasHistory  bool
		hasMessages bool
	)

	for k, v := range raw {
		var err error
		switch k {
		case "shard_id":
			err = json.Unmarshal(v, &s.ID)
		case "guiding_question":
			err = json.Unmarshal(v, &s.GuidingQuestion)
		case "conversation_history":
			hasHistory = true
			err = json.Unmarshal(v, &history)
		case "messages":
			hasMessages = true
			err = json.Unmarshal(v, &messages)
		case "meta_tags":
			err = json.Unmarshal(v, &s.Meta)
		case "context":
			var e model.Enrichment
			if json.Unmarshal(v, &e) == nil {
				s.Enrichment = &e
			} else {
				setExtra(s, k, v)
			}
		default:
			setExtra(s, k, v)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", model.ErrCorrupt, k, err)
		}
	}

	switch {
	case len(history) > 0:
		s.History = history
		if hasMessages {
			setExtra(s, "messages", raw["messages"])
		}
	case hasMessages:
		s.History = make([]model.Turn, 0, len(messages))
		for _, m := range messages {
			s.History = append(s.History, turnFromMessage(m))
		}
	case hasHistory:
		s.History = []model.Turn{}
	}
	if hasHistory || hasMessages {
		s.Pairs = contentPairs(s.History)
	}

	return s, nil
}

// contentPairs projects turns onto trimmed (user, ai) pairs. Legacy messages
// are projected through their converted turns, so a record keeps the same
// pairs after it is rewritten in the canonical schema.
func contentPairs(turns []model.Turn) [][2]string {
	pairs := make([][2]string, 0, len(turns))
	for _, t := range turns {
		pairs = append(pairs, [2]string{strings.TrimSpace(t.User), strings.TrimSpace(t.AI)})
	}
	return pairs
}

func setExtra(s *model.Shard, k string, v json.RawMessage) {
	if s.Extra == nil {
		s.Extra = make(map[string]json.RawMessage)
	}
	s.Extra[k] = v
}

func turnFromMessage(m legacyMessage) model.Turn {
	t := model.Turn{Timestamp: m.Timestamp}
	switch strings.ToLower(strings.TrimSpace(m.Author)) {
	case "user", "human":
		t.User = m.Content
	default:
		t.AI = m.Content
	}
	return t
}

// EncodeShard renders s in the canonical on-disk schema.
func EncodeShard(s *model.Shard) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
