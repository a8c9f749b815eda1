package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/shardmem/internal/embedding"
	"github.com/rcliao/shardmem/internal/model"
	"github.com/rcliao/shardmem/internal/store"
)

type fakeSummarizer struct {
	calls atomic.Int32
	fail  map[string]bool // fail when the prompt contains this text
}

func (f *fakeSummarizer) Summarize(ctx context.Context, content string) (*Summary, error) {
	f.calls.Add(1)
	for needle := range f.fail {
		if strings.Contains(content, needle) {
			return nil, errors.New("model unavailable")
		}
	}
	return &Summary{Summary: "about " + firstLine(content), Topics: []string{"t"}, ConversationType: "design"}, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

type fakeEmbedder struct{ vec embedding.Vector }

func (f fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return f.vec, nil
}

func (f fakeEmbedder) Dims() int { return len(f.vec) }

func newTestStore(t *testing.T) *store.FileStore {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewRequiresProviders(t *testing.T) {
	st := newTestStore(t)
	_, err := New(st, nil, fakeEmbedder{}, Config{})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = New(st, &fakeSummarizer{}, nil, Config{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	put := func(sh *model.Shard) { require.NoError(t, st.Put(ctx, sh)) }

	put(&model.Shard{ID: "a", GuidingQuestion: "alpha", History: []model.Turn{{User: "hi", AI: "hello"}}})
	put(&model.Shard{ID: "b", GuidingQuestion: "beta"})
	put(&model.Shard{ID: "c", GuidingQuestion: "gamma", Enrichment: &model.Enrichment{Summary: "old", Embedding: []float64{9}}})
	put(&model.Shard{ID: "d", GuidingQuestion: "broken"})

	fixed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sum := &fakeSummarizer{fail: map[string]bool{"broken": true}}
	e, err := New(st, sum, fakeEmbedder{vec: embedding.Vector{0.5, 0.5}}, Config{
		Concurrency: 3,
		Now:         func() time.Time { return fixed },
	})
	require.NoError(t, err)

	rep, err := e.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rep.Enriched)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "c", rep.Skipped[0].ID)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "d", rep.Failed[0].ID)

	a, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, a.Enrichment)
	assert.Equal(t, "about Guiding question: alpha", a.Enrichment.Summary)
	assert.Equal(t, []float64{0.5, 0.5}, a.Enrichment.Embedding)
	assert.Equal(t, model.FormatTime(fixed), a.Enrichment.UpdatedAt)

	c, err := st.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "old", c.Enrichment.Summary)

	d, err := st.Get(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, d.Enrichment, "failed shard must not be partially written")

	// Forced run re-enriches c.
	rep, err = e.Run(ctx, true)
	require.NoError(t, err)
	assert.Contains(t, rep.Enriched, "c")
	c, err = st.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "about Guiding question: gamma", c.Enrichment.Summary)
}

func TestPromptRespectsBudget(t *testing.T) {
	st := newTestStore(t)
	e, err := New(st, &fakeSummarizer{}, fakeEmbedder{vec: embedding.Vector{1}}, Config{MaxPromptChars: 120})
	require.NoError(t, err)

	var history []model.Turn
	for i := 0; i < 20; i++ {
		history = append(history, model.Turn{User: "question number", AI: "an answer"})
	}
	p := e.Prompt(&model.Shard{GuidingQuestion: "q", History: history})
	assert.LessOrEqual(t, len(p), 120)
	assert.True(t, strings.HasPrefix(p, "Guiding question: q\n\nUser: question number"))
}

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Summary
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"summary": "A chat about Go.", "topics": ["go", "concurrency"], "conversation_type": "design"}`,
			want: &Summary{Summary: "A chat about Go.", Topics: []string{"go", "concurrency"}, ConversationType: "design"},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"summary\": \"s\", \"topics\": \"a, b\"}\n```",
			want: &Summary{Summary: "s", Topics: []string{"a", "b"}},
		},
		{
			name: "line fallback",
			raw:  "- Summary: Talking about memory\n- Topics: memory, recall\n- Type: reflection",
			want: &Summary{Summary: "Talking about memory", Topics: []string{"memory", "recall"}, ConversationType: "reflection"},
		},
		{
			name: "first line stands in",
			raw:  "Just a sentence about things.",
			want: &Summary{Summary: "Just a sentence about things.", Topics: []string{}},
		},
		{name: "empty json summary", raw: `{"summary": ""}`, wantErr: true},
		{name: "empty reply", raw: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSummary(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrDependency)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenAISummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"summary\": \"ok\", \"topics\": [\"x\"]}"}
			}]
		}`))
	}))
	defer srv.Close()

	s := NewOpenAISummarizer(srv.URL, "sk-test", "")
	got, err := s.Summarize(context.Background(), "content")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Summary)
	assert.Equal(t, []string{"x"}, got.Topics)
}
