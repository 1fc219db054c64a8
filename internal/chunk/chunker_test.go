package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

const sample = `Retrieval quality depends on chunk boundaries. Sentences that are cut
in half lose meaning, so windows end on whitespace when one is close by.
Überprüfung: naïve café façade — 日本語のテキストも含まれます。
Tabs	and  double  spaces survive untouched because offsets index the input.`

func mustChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(size, overlap)
	require.NoError(t, err)
	return c
}

// TS01: 1000 characters, size 300, overlap 60
func TestSplit_ThousandCharacters(t *testing.T) {
	// Given: text with no whitespace so every cut is a hard cut
	text := strings.Repeat("abcdefghij", 100)
	c := mustChunker(t, 300, 60)

	// When: splitting
	chunks := c.Split(text)

	// Then: four chunks stepping by 240, the last ending at 1000
	require.Len(t, chunks, 4)
	starts := make([]int, len(chunks))
	for i, ch := range chunks {
		starts[i] = ch.Start
		assert.Equal(t, i, ch.Index)
	}
	assert.Equal(t, []int{0, 240, 480, 720}, starts)
	assert.Equal(t, 1000, chunks[3].End)
	assert.Equal(t, 280, chunks[3].Len())
}

// TS02: Empty and short input
func TestSplit_EdgeCases(t *testing.T) {
	c := mustChunker(t, 300, 60)

	assert.Empty(t, c.Split(""))

	chunks := c.Split("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{Index: 0, Text: "short text", Start: 0, End: 10}, chunks[0])

	exact := strings.Repeat("x", 300)
	chunks = c.Split(exact)
	require.Len(t, chunks, 1)
	assert.Equal(t, 300, chunks[0].End)
}

// TS03: Invalid window parameters fail fast
func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -10, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap)

			assert.Nil(t, c)
			require.Error(t, err)
			assert.ErrorIs(t, err, ierrors.ErrInvalidChunkConfig)
		})
	}

	c, err := New(10, 9)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Size())
	assert.Equal(t, 9, c.Overlap())
}

// TS04: Cuts prefer whitespace near the end of the window
func TestSplit_PrefersWhitespace(t *testing.T) {
	// Given: a space two runes before the hard cut at 20
	text := "abcdefghijklmnopq rstuvwxyz0123456789"
	c := mustChunker(t, 20, 4)

	// When: splitting
	chunks := c.Split(text)

	// Then: the first chunk ends right after the space
	require.NotEmpty(t, chunks)
	assert.Equal(t, 18, chunks[0].End)
	assert.Equal(t, "abcdefghijklmnopq ", chunks[0].Text)
	assert.Equal(t, 14, chunks[1].Start)
}

func TestSplit_HardCutWhenNoWhitespaceInLookback(t *testing.T) {
	// The only space is outside the last tenth of the window.
	text := "abcde fghijklmnopqrstuvwxyz"
	c := mustChunker(t, 20, 4)

	chunks := c.Split(text)

	assert.Equal(t, 20, chunks[0].End)
}

// TS05: Split is deterministic and offsets follow the window rules
func TestSplit_Invariants(t *testing.T) {
	text := strings.Repeat(sample+"\n\n", 12)
	n := len([]rune(text))

	for _, cfg := range [][2]int{{50, 0}, {50, 10}, {64, 63}, {300, 70}, {1000, 200}, {7, 3}} {
		c := mustChunker(t, cfg[0], cfg[1])
		chunks := c.Split(text)

		assert.Equal(t, chunks, c.Split(text), "split must be deterministic")
		require.NotEmpty(t, chunks)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, n, chunks[len(chunks)-1].End)

		runes := []rune(text)
		for i, ch := range chunks {
			assert.Equal(t, i, ch.Index)
			assert.LessOrEqual(t, ch.Len(), c.Size())
			assert.Positive(t, ch.Len())
			assert.Equal(t, string(runes[ch.Start:ch.End]), ch.Text)
			if i > 0 {
				prev := chunks[i-1]
				assert.Equal(t, prev.End-c.Overlap(), ch.Start)
				assert.Greater(t, ch.End, prev.End, "each chunk adds new text")
			}
		}
	}
}

// TS06: Reconstruct round-trips the input
func TestReconstruct_RoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"a",
		sample,
		strings.Repeat("word ", 500),
		strings.Repeat("日本語", 333),
	}
	for _, text := range inputs {
		for _, cfg := range [][2]int{{10, 0}, {10, 9}, {300, 60}, {33, 5}} {
			c := mustChunker(t, cfg[0], cfg[1])
			assert.Equal(t, text, Reconstruct(c.Split(text)))
		}
	}
}

func TestSplit_RuneOffsets(t *testing.T) {
	text := "naïve café façade"
	c := mustChunker(t, 8, 2)

	chunks := c.Split(text)

	for _, ch := range chunks {
		assert.Equal(t, ch.Len(), len([]rune(ch.Text)))
	}
	assert.Equal(t, len([]rune(text)), chunks[len(chunks)-1].End)
}

func TestStatistics(t *testing.T) {
	assert.Equal(t, Stats{}, Statistics(nil))

	chunks := []Chunk{
		{Start: 0, End: 10},
		{Start: 8, End: 18},
		{Start: 16, End: 20},
	}
	s := Statistics(chunks)

	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 24, s.TotalChars)
	assert.InDelta(t, 8.0, s.AvgChars, 1e-9)
	assert.Equal(t, 4, s.MinChars)
	assert.Equal(t, 10, s.MaxChars)
}
