package retrieve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rajasaid/InsightOS/internal/store"
)

// ExcerptLength is the number of characters in a citation excerpt.
const ExcerptLength = 200

// Span is one citation: a chunk, or a run of adjacent chunks from the same
// document merged together.
type Span struct {
	SourcePath string  `json:"source_path"`
	Format     string  `json:"format"`
	FirstIndex int     `json:"first_index"`
	LastIndex  int     `json:"last_index"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Bundle is the context assembled for one query.
type Bundle struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
	Spans     []Span  `json:"spans"`

	// Text is the flattened context block handed to generation.
	Text string `json:"text"`

	// Dropped counts qualifying chunks left out by the character budget.
	Dropped int `json:"dropped,omitempty"`

	// OverBudget is set when the top chunk alone exceeds the budget. It is
	// kept whole anyway.
	OverBudget bool `json:"over_budget,omitempty"`
}

// Empty reports whether no chunk cleared the threshold.
func (b *Bundle) Empty() bool {
	return b == nil || len(b.Spans) == 0
}

func spanOf(r store.Result) Span {
	return Span{
		SourcePath: r.SourcePath,
		Format:     r.Format,
		FirstIndex: r.ChunkIndex,
		LastIndex:  r.ChunkIndex,
		Start:      r.Start,
		End:        r.End,
		Text:       r.Text,
		Score:      r.Score,
	}
}

// mergeAdjacent coalesces ranked results whose chunk indices touch a span
// already emitted for the same document. A span keeps the rank position and
// score of its best chunk, so merging never reorders results.
func mergeAdjacent(results []store.Result) []Span {
	var spans []Span
	for _, r := range results {
		target := -1
		for i := range spans {
			s := &spans[i]
			if s.SourcePath == r.SourcePath && r.ChunkIndex >= s.FirstIndex-1 && r.ChunkIndex <= s.LastIndex+1 {
				target = i
				break
			}
		}
		if target < 0 {
			spans = append(spans, spanOf(r))
			continue
		}
		extend(&spans[target], spanOf(r))

		// The new chunk may bridge to a later span of the same document.
		for j := target + 1; j < len(spans); j++ {
			s, o := &spans[target], spans[j]
			if o.SourcePath == s.SourcePath && o.FirstIndex <= s.LastIndex+1 && o.LastIndex >= s.FirstIndex-1 {
				extend(s, o)
				spans = append(spans[:j], spans[j+1:]...)
				j--
			}
		}
	}
	return spans
}

// extend grows s to cover o using character offsets, so the overlap window
// between consecutive chunks appears once.
func extend(s *Span, o Span) {
	if o.Score > s.Score {
		s.Score = o.Score
	}
	switch {
	case o.Start >= s.Start && o.End <= s.End:
		// Already covered.
	case o.Start >= s.Start:
		s.Text = joinAfter(s.Text, s.End, o.Text, o.Start)
		s.End = o.End
	case o.End <= s.End:
		s.Text = joinAfter(o.Text, o.End, s.Text, s.Start)
		s.Start = o.Start
	default:
		s.Text = o.Text
		s.Start, s.End = o.Start, o.End
	}
	if o.FirstIndex < s.FirstIndex {
		s.FirstIndex = o.FirstIndex
	}
	if o.LastIndex > s.LastIndex {
		s.LastIndex = o.LastIndex
	}
}

// joinAfter appends the part of tail (starting at offset tailStart) that
// lies beyond headEnd.
func joinAfter(head string, headEnd int, tail string, tailStart int) string {
	overlap := headEnd - tailStart
	if overlap <= 0 {
		return head + "\n" + tail
	}
	runes := []rune(tail)
	if overlap >= len(runes) {
		return head
	}
	return head + string(runes[overlap:])
}

// formatContext renders spans as numbered, attributed blocks.
func formatContext(spans []Span) string {
	var b strings.Builder
	for i, s := range spans {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (%s, score %.3f)\n", i+1, s.SourcePath, chunkRange(s), s.Score)
		b.WriteString(s.Text)
	}
	return b.String()
}

func chunkRange(s Span) string {
	if s.FirstIndex == s.LastIndex {
		return fmt.Sprintf("chunk %d", s.FirstIndex)
	}
	return fmt.Sprintf("chunks %d-%d", s.FirstIndex, s.LastIndex)
}

// Citation is a compact reference to a span for display.
type Citation struct {
	Number     int     `json:"number"`
	SourcePath string  `json:"source_path"`
	FirstIndex int     `json:"first_index"`
	LastIndex  int     `json:"last_index"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// Citations returns one citation per span, numbered as in Text.
func (b *Bundle) Citations() []Citation {
	if b.Empty() {
		return nil
	}
	out := make([]Citation, len(b.Spans))
	for i, s := range b.Spans {
		out[i] = Citation{
			Number:     i + 1,
			SourcePath: s.SourcePath,
			FirstIndex: s.FirstIndex,
			LastIndex:  s.LastIndex,
			Start:      s.Start,
			End:        s.End,
			Score:      s.Score,
			Excerpt:    excerpt(s.Text, ExcerptLength),
		}
	}
	return out
}

func excerpt(text string, n int) string {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}

// Stats summarizes the scores and origins of a bundle.
type Stats struct {
	Count         int            `json:"count"`
	AvgScore      float64        `json:"avg_score"`
	MinScore      float64        `json:"min_score"`
	MaxScore      float64        `json:"max_score"`
	UniqueSources int            `json:"unique_sources"`
	Formats       map[string]int `json:"formats"`
}

// Stats returns score statistics over the spans.
func (b *Bundle) Stats() Stats {
	st := Stats{Formats: make(map[string]int)}
	if b.Empty() {
		return st
	}
	st.Count = len(b.Spans)
	st.MinScore = b.Spans[0].Score
	sum := 0.0
	for _, s := range b.Spans {
		sum += s.Score
		if s.Score < st.MinScore {
			st.MinScore = s.Score
		}
		if s.Score > st.MaxScore {
			st.MaxScore = s.Score
		}
		if s.Format != "" {
			st.Formats[s.Format]++
		}
	}
	st.AvgScore = sum / float64(st.Count)
	st.UniqueSources = len(b.Sources())
	return st
}

// Sources returns the sorted unique source paths in the bundle.
func (b *Bundle) Sources() []string {
	if b.Empty() {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, s := range b.Spans {
		if !seen[s.SourcePath] {
			seen[s.SourcePath] = true
			out = append(out, s.SourcePath)
		}
	}
	sort.Strings(out)
	return out
}
