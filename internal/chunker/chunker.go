// Package chunker splits shard transcripts into prompt-sized chunks on turn boundaries.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/rcliao/shardmem/internal/model"
)

const (
	DefaultTargetSize = 2000
	DefaultMaxSize    = 4000
	DefaultAILabel    = "AI"
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MaxSize    int
	AILabel    string
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
		AILabel:    DefaultAILabel,
	}
}

// ChunkResult is a chunk with the 1-based range of turns it covers.
type ChunkResult struct {
	Text      string
	StartTurn int
	EndTurn   int
}

// RenderTurn formats one turn as "User: ..." and "<label>: ..." lines.
// Empty sides are omitted.
func RenderTurn(t model.Turn, aiLabel string) string {
	if aiLabel == "" {
		aiLabel = DefaultAILabel
	}
	var lines []string
	if u := strings.TrimSpace(t.User); u != "" {
		lines = append(lines, "User: "+u)
	}
	if a := strings.TrimSpace(t.AI); a != "" {
		lines = append(lines, aiLabel+": "+a)
	}
	return strings.Join(lines, "\n")
}

// Chunk renders turns and groups consecutive ones up to TargetSize. A
// single turn longer than MaxSize is split on line boundaries.
func Chunk(turns []model.Turn, opts Options) []ChunkResult {
	if opts.TargetSize == 0 {
		label := opts.AILabel
		opts = DefaultOptions()
		if label != "" {
			opts.AILabel = label
		}
	}

	var results []ChunkResult
	var accum ChunkResult

	flush := func() {
		if accum.Text != "" {
			results = append(results, accum)
		}
		accum = ChunkResult{}
	}

	for i, t := range turns {
		n := i + 1
		text := RenderTurn(t, opts.AILabel)
		if text == "" {
			continue
		}

		if len(text) > opts.MaxSize {
			flush()
			results = append(results, hardSplit(text, n, opts)...)
			continue
		}

		if accum.Text == "" {
			accum = ChunkResult{Text: text, StartTurn: n, EndTurn: n}
			continue
		}
		combined := accum.Text + "\n\n" + text
		if len(combined) <= opts.TargetSize {
			accum.Text = combined
			accum.EndTurn = n
		} else {
			flush()
			accum = ChunkResult{Text: text, StartTurn: n, EndTurn: n}
		}
	}
	flush()

	return results
}

// hardSplit breaks one oversized turn on line boundaries. Lines that are
// themselves too long are cut at TargetSize bytes on a rune boundary.
func hardSplit(text string, turn int, opts Options) []ChunkResult {
	var results []ChunkResult
	var current []string
	curLen := 0

	emit := func() {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			results = append(results, ChunkResult{Text: t, StartTurn: turn, EndTurn: turn})
		}
		current = nil
		curLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > opts.TargetSize {
			cut := runeCut(line, opts.TargetSize)
			if len(current) > 0 {
				emit()
			}
			current = []string{line[:cut]}
			emit()
			line = line[cut:]
		}
		if curLen+len(line) > opts.TargetSize && len(current) > 0 {
			emit()
		}
		current = append(current, line)
		curLen += len(line) + 1 // +1 for newline
	}
	if len(current) > 0 {
		emit()
	}
	return results
}

// Prefix joins leading chunks while the result stays within budget bytes.
// If even the first chunk is too long it is truncated on a rune boundary.
func Prefix(chunks []ChunkResult, budget int) string {
	if len(chunks) == 0 || budget <= 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range chunks {
		sep := ""
		if i > 0 {
			sep = "\n\n"
		}
		if b.Len()+len(sep)+len(c.Text) > budget {
			if i == 0 {
				return c.Text[:runeCut(c.Text, budget)]
			}
			break
		}
		b.WriteString(sep)
		b.WriteString(c.Text)
	}
	return b.String()
}

// runeCut returns the largest index <= n that does not split a rune.
func runeCut(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
