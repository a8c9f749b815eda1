package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/rcliao/shardmem/internal/model"
)

// Summary is the structured description a Summarizer produces for one shard.
type Summary struct {
	Summary          string   `json:"summary"`
	Topics           []string `json:"topics"`
	ConversationType string   `json:"conversation_type"`
}

// Summarizer describes shard content.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (*Summary, error)
}

const systemPrompt = "You are a context analysis assistant. Respond only with valid JSON."

const userPrompt = "Analyze the following shard content and respond with ONLY a JSON object " +
	"(no markdown, no backticks) containing:\n" +
	"- \"summary\": A 1-2 sentence summary of the shard's purpose\n" +
	"- \"topics\": A list of 3-6 topic tags as strings\n" +
	"- \"conversation_type\": The type (e.g., debugging, philosophy, design, memory reflection)\n\n" +
	"Shard content:\n"

// OpenAISummarizer asks a chat completion model for a Summary.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

// NewOpenAISummarizer creates a summarizer. An empty apiKey falls back to
// $OPENAI_API_KEY; an empty model uses gpt-4o-mini.
func NewOpenAISummarizer(baseURL, apiKey, modelName string) *OpenAISummarizer {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAISummarizer{client: openai.NewClient(opts...), model: modelName}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, content string) (*Summary, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt + content),
		},
		Model:       s.model,
		Temperature: openai.Float(0.3),
	}
	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", model.ErrDependency, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", model.ErrDependency)
	}
	return ParseSummary(completion.Choices[0].Message.Content)
}

// ParseSummary reads a model reply. JSON is preferred (markdown fences are
// stripped); otherwise "key: value" lines are scanned. A reply without a
// summary is a dependency failure.
func ParseSummary(raw string) (*Summary, error) {
	raw = stripFences(raw)

	var js struct {
		Summary          string          `json:"summary"`
		Topics           json.RawMessage `json:"topics"`
		ConversationType string          `json:"conversation_type"`
	}
	var out *Summary
	if err := json.Unmarshal([]byte(raw), &js); err == nil {
		out = &Summary{
			Summary:          strings.TrimSpace(js.Summary),
			Topics:           parseTopics(js.Topics),
			ConversationType: strings.TrimSpace(js.ConversationType),
		}
	} else {
		out = parseLines(raw)
	}

	if out.Summary == "" {
		return nil, fmt.Errorf("%w: reply has no summary", model.ErrDependency)
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	return out, nil
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.IndexByte(raw, '\n'); i >= 0 {
			raw = raw[i+1:]
		} else {
			raw = raw[3:]
		}
	}
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

// parseTopics accepts a list of strings or one comma-separated string.
func parseTopics(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return cleanTopics(list)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return cleanTopics(strings.Split(s, ","))
	}
	return nil
}

func cleanTopics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseLines is the fallback for replies that are not JSON. The first
// unlabeled line stands in for a missing summary.
func parseLines(raw string) *Summary {
	out := &Summary{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-•* "))
		if line == "" {
			continue
		}
		key, value, hasColon := strings.Cut(line, ":")
		lower := strings.ToLower(key)
		switch {
		case hasColon && strings.Contains(lower, "summary"):
			out.Summary = strings.TrimSpace(value)
		case hasColon && strings.Contains(lower, "topic"):
			out.Topics = cleanTopics(strings.Split(value, ","))
		case hasColon && strings.Contains(lower, "type"):
			out.ConversationType = strings.TrimSpace(value)
		case out.Summary == "":
			out.Summary = line
		}
	}
	return out
}
