package relevance

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/shardmem/internal/model"
)

func entry(id, question string, tags ...string) model.IndexEntry {
	if tags == nil {
		tags = []string{}
	}
	return model.IndexEntry{ID: id, Filename: id + ".json", GuidingQuestion: question, Tags: tags, Topics: []string{}}
}

func TestTokenScore(t *testing.T) {
	tests := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"full coverage", "memory systems", "how do memory systems work", 1},
		{"half", "memory cooking", "memory systems", 0.5},
		{"no overlap", "quantum", "memory systems", 0},
		{"empty query", "", "memory", 0},
		{"case folded", "MEMORY", "memory", 1},
		{"duplicates collapse", "memory memory x", "memory", 0.5},
		{"long generic query", "a b c d e f g h i j", "a", 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TokenScore(Tokens(tt.query), Tokens(tt.text))
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestSearchableText(t *testing.T) {
	e := entry("x", "What is Go?")
	e.Summary = "concurrency primer"
	e.Topics = []string{"goroutines", "channels"}
	e.Meta = model.Meta{Theme: "programming", Intent: "learning"}

	toks := Tokens(SearchableText(e))
	for _, want := range []string{"what", "go?", "concurrency", "goroutines", "channels", "programming", "learning"} {
		assert.Contains(t, toks, want)
	}
}

func TestRankExcludesArchived(t *testing.T) {
	archivedByTag := entry("a", "memory memory", model.TagArchived)
	archivedByIntent := entry("b", "memory")
	archivedByIntent.Meta.Intent = model.IntentArchived
	live := entry("c", "memory")

	got := Rank("memory", []Candidate{{Entry: archivedByTag}, {Entry: archivedByIntent}, {Entry: live}}, Options{Mode: ModeToken})
	assert.Equal(t, []string{"c"}, IDs(got))
}

func TestRankOrderAndTopN(t *testing.T) {
	cands := []Candidate{
		{Entry: entry("low", "alpha")},
		{Entry: entry("tie1", "alpha beta")},
		{Entry: entry("high", "alpha beta gamma")},
		{Entry: entry("tie2", "alpha beta")},
		{Entry: entry("zero", "delta")},
	}
	got := Rank("alpha beta gamma", cands, Options{Mode: ModeToken, TopN: 4})
	assert.Equal(t, []string{"high", "tie1", "tie2", "low"}, IDs(got))
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, 0.6667, got[1].Score)
	assert.Equal(t, ModeToken, got[0].Method)
}

func TestRankMinScore(t *testing.T) {
	cands := []Candidate{{Entry: entry("hit", "alpha")}, {Entry: entry("miss", "beta")}}
	got := Rank("alpha", cands, Options{Mode: ModeToken, HasMin: true})
	assert.Equal(t, []string{"hit"}, IDs(got))

	got = Rank("alpha", cands, Options{Mode: ModeToken})
	assert.Equal(t, []string{"hit", "miss"}, IDs(got))
}

func TestRankVector(t *testing.T) {
	cands := []Candidate{
		{Entry: entry("orth", "nothing"), Embedding: []float64{0, 1}},
		{Entry: entry("same", "nothing"), Embedding: []float64{1, 0}},
		{Entry: entry("noemb", "apples")},
		{Entry: entry("zero", "nothing"), Embedding: []float64{0, 0}},
	}
	got := Rank("apples", cands, Options{Mode: ModeVector, QueryEmbedding: []float64{2, 0}})
	require.Len(t, got, 4)

	byID := map[string]Result{}
	for _, r := range got {
		byID[r.ID] = r
	}
	assert.Equal(t, 1.0, byID["same"].Score)
	assert.Equal(t, ModeVector, byID["same"].Method)
	assert.Equal(t, 0.0, byID["orth"].Score)
	assert.Equal(t, 0.0, byID["zero"].Score)
	assert.Equal(t, 1.0, byID["noemb"].Score)
	assert.Equal(t, ModeToken, byID["noemb"].Method)
}

func TestRankVectorWithoutQueryEmbeddingUsesTokens(t *testing.T) {
	cands := []Candidate{{Entry: entry("a", "apples"), Embedding: []float64{1}}}
	got := Rank("apples", cands, Options{Mode: ModeVector})
	require.Len(t, got, 1)
	assert.Equal(t, ModeToken, got[0].Method)
	assert.Equal(t, 1.0, got[0].Score)
}

func TestAutoSelectFloor(t *testing.T) {
	// Ten-token query: one hit scores exactly 0.1, which does not clear the floor.
	query := "a b c d e f g h i j"
	cands := []Candidate{
		{Entry: entry("exact_floor", "a")},
		{Entry: entry("above", "a b")},
		{Entry: entry("none", "zzz")},
	}
	got := AutoSelect(query, cands, DefaultFloor, 3)
	assert.Equal(t, []string{"above"}, IDs(got))

	assert.Empty(t, AutoSelect("unrelated words", cands, DefaultFloor, 3))
}

func TestFromIndexSortsByID(t *testing.T) {
	idx := model.Index{"b": entry("b", ""), "a": entry("a", ""), "c": entry("c", "")}
	cands := FromIndex(idx, map[string][]float64{"b": {1}})
	var ids []string
	for _, c := range cands {
		ids = append(ids, c.Entry.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{1}, cands[1].Embedding)
	assert.Nil(t, cands[0].Embedding)
}
