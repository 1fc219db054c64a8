// Package chunk splits normalized document text into overlapping,
// offset-tracked windows. Offsets are rune offsets into the input text.
package chunk

import (
	"unicode"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// Defaults match the chunking section of the configuration.
const (
	DefaultSize    = 300
	DefaultOverlap = 70
)

// Chunk is one window of a document.
type Chunk struct {
	Index int    // 0-based position within the document
	Text  string // runes [Start, End) of the normalized text
	Start int
	End   int
}

// Len returns the chunk length in runes.
func (c Chunk) Len() int { return c.End - c.Start }

// Chunker splits text into windows of at most size runes where each
// window repeats the last overlap runes of its predecessor.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window parameters.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ierrors.InvalidChunkConfig(size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the maximum window length in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunks of text in order. The output depends only on
// text, size and overlap.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, n/(c.size-c.overlap)+1)
	for start := 0; ; {
		end := min(start+c.size, n)
		if end < n {
			end = c.boundary(runes, start, end)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks
}

// boundary moves a hard cut at end back to just after the nearest
// whitespace in the last tenth of the window. The result stays above
// start+overlap so the next window always advances.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	if unicode.IsSpace(runes[end]) || unicode.IsSpace(runes[end-1]) {
		return end
	}
	lo := max(start+c.size-c.size/10, start+c.overlap+1)
	for cut := end - 1; cut >= lo; cut-- {
		if unicode.IsSpace(runes[cut-1]) {
			return cut
		}
	}
	return end
}

// Reconstruct joins chunks produced by Split back into the original text,
// skipping the overlapping prefix of each chunk after the first.
func Reconstruct(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0].Text)
	prevEnd := chunks[0].End
	for _, ch := range chunks[1:] {
		rs := []rune(ch.Text)
		skip := prevEnd - ch.Start
		if skip < 0 || skip > len(rs) {
			skip = 0
		}
		out = append(out, rs[skip:]...)
		prevEnd = ch.End
	}
	return string(out)
}

// Stats summarizes chunk lengths in runes.
type Stats struct {
	Count      int     `json:"count"`
	TotalChars int     `json:"total_chars"`
	AvgChars   float64 `json:"avg_chars"`
	MinChars   int     `json:"min_chars"`
	MaxChars   int     `json:"max_chars"`
}

// Statistics computes Stats over chunks. Empty input yields the zero value.
func Statistics(chunks []Chunk) Stats {
	if len(chunks) == 0 {
		return Stats{}
	}
	s := Stats{Count: len(chunks), MinChars: chunks[0].Len()}
	for _, ch := range chunks {
		l := ch.Len()
		s.TotalChars += l
		s.MinChars = min(s.MinChars, l)
		s.MaxChars = max(s.MaxChars, l)
	}
	s.AvgChars = float64(s.TotalChars) / float64(s.Count)
	return s
}
