// Package relevance scores index entries against a query.
package relevance

import (
	"math"
	"sort"
	"strings"

	"github.com/rcliao/shardmem/internal/embedding"
	"github.com/rcliao/shardmem/internal/model"
)

// Mode selects the scoring function.
type Mode string

const (
	ModeToken  Mode = "token"
	ModeVector Mode = "vector"
)

// DefaultFloor is the auto-select relevance floor.
const DefaultFloor = 0.1

// Candidate is one scoreable shard. Embedding is only consulted in vector mode.
type Candidate struct {
	Entry     model.IndexEntry
	Embedding []float64
}

// Result is one ranked candidate.
type Result struct {
	ID              string   `json:"id"`
	GuidingQuestion string   `json:"guiding_question"`
	Score           float64  `json:"score"`
	Method          Mode     `json:"method"`
	Tags            []string `json:"tags"`
	Summary         string   `json:"summary"`
}

// Options controls a ranking pass.
type Options struct {
	Mode           Mode
	QueryEmbedding []float64
	TopN           int

	// When HasMin is set, results scoring at or below MinScore are dropped.
	MinScore float64
	HasMin   bool
}

// Tokens lower-cases s and splits it on whitespace into a set.
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// SearchableText joins the fields of e that token scoring looks at.
func SearchableText(e model.IndexEntry) string {
	parts := []string{e.GuidingQuestion, e.Summary}
	parts = append(parts, e.Topics...)
	parts = append(parts, e.Meta.Theme, e.Meta.Intent)
	return strings.Join(parts, " ")
}

// TokenScore is |query ∩ text| / max(|query|, 1).
func TokenScore(query map[string]struct{}, text map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if _, ok := text[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Rank scores candidates against query, drops archived entries and returns
// the best TopN in descending score order. Ties keep candidate order.
//
// In vector mode a candidate without an embedding is scored by token overlap
// and reported with Method=token. With no query embedding the whole pass
// runs in token mode.
func Rank(query string, cands []Candidate, opts Options) []Result {
	qTokens := Tokens(query)
	vector := opts.Mode == ModeVector && len(opts.QueryEmbedding) > 0

	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		e := c.Entry
		if e.HasTag(model.TagArchived) || e.Meta.IsArchived() {
			continue
		}

		var score float64
		method := ModeToken
		if vector && len(c.Embedding) > 0 {
			score = embedding.CosineSimilarity(opts.QueryEmbedding, c.Embedding)
			method = ModeVector
		} else {
			score = TokenScore(qTokens, Tokens(SearchableText(e)))
		}

		if opts.HasMin && score <= opts.MinScore {
			continue
		}

		tags := e.Tags
		if tags == nil {
			tags = []string{}
		}
		results = append(results, Result{
			ID:              e.ID,
			GuidingQuestion: e.GuidingQuestion,
			Score:           round4(score),
			Method:          method,
			Tags:            tags,
			Summary:         e.Summary,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if opts.TopN > 0 && len(results) > opts.TopN {
		results = results[:opts.TopN]
	}
	return results
}

// AutoSelect ranks by token overlap and keeps only results scoring strictly
// above floor. An empty result means nothing matched.
func AutoSelect(message string, cands []Candidate, floor float64, topN int) []Result {
	return Rank(message, cands, Options{
		Mode:     ModeToken,
		TopN:     topN,
		MinScore: floor,
		HasMin:   true,
	})
}

// IDs returns the ids of results in order.
func IDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

// FromIndex turns an index into candidates ordered by id, which makes tie
// order deterministic.
func FromIndex(idx model.Index, embeddings map[string][]float64) []Candidate {
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cands := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		cands = append(cands, Candidate{Entry: idx[id], Embedding: embeddings[id]})
	}
	return cands
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
