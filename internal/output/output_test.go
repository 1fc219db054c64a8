package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rajasaid/InsightOS/internal/retrieve"
)

func TestWriter_StatusLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("Index complete")
	w.Warningf("%d files skipped", 3)
	w.Error("store unavailable")
	w.Status("", "indented")

	assert.Equal(t, "✓ Index complete\n! 3 files skipped\n✗ store unavailable\n   indented\n", buf.String())
}

func TestWriter_Code(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Code("a\nb")
	assert.Equal(t, "\n  a\n  b\n\n", buf.String())
}

// TS01: Results are printed with numbered citations
func TestWriter_Bundle(t *testing.T) {
	// Given: a bundle with a merged span and a dropped chunk
	b := &retrieve.Bundle{
		Query: "ship date",
		Spans: []retrieve.Span{
			{SourcePath: "/d/plan.md", FirstIndex: 1, LastIndex: 2, Text: "We ship\nin May.", Score: 0.875},
			{SourcePath: "/d/memo.txt", FirstIndex: 0, LastIndex: 0, Text: "May launch", Score: 0.5},
		},
		Dropped: 1,
	}
	buf := &bytes.Buffer{}

	// When: it is printed with full text
	New(buf).Bundle(b, true)

	// Then: headers carry the chunk range and score
	out := buf.String()
	assert.Contains(t, out, "[1] /d/plan.md (chunks 1-2, score 0.875)\n    We ship\n    in May.\n")
	assert.Contains(t, out, "[2] /d/memo.txt (chunk 0, score 0.500)\n    May launch\n")
	assert.Contains(t, out, "1 more matching chunk(s)")

	// And: excerpts collapse whitespace
	buf.Reset()
	New(buf).Bundle(b, false)
	assert.Contains(t, buf.String(), "    We ship in May.\n")
	assert.NotContains(t, buf.String(), "exceeds the context budget")

	// When: the top match alone is over budget
	buf.Reset()
	b.OverBudget = true
	New(buf).Bundle(b, false)

	// Then: the reader is told it was kept whole
	assert.Contains(t, buf.String(), "The top match alone exceeds the context budget")
}

func TestWriter_Bundle_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Bundle(&retrieve.Bundle{Query: "nothing", Threshold: 0.3}, false)
	assert.Equal(t, "No results for \"nothing\" above similarity 0.30.\n", buf.String())
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(0, 0, "ignored")
	assert.Empty(t, buf.String())

	w.Progress(5, 10, "half")
	assert.True(t, strings.HasPrefix(buf.String(), "\r["))
	assert.Contains(t, buf.String(), "50% half")
	assert.False(t, strings.HasSuffix(buf.String(), "\n"))

	w.Progress(10, 10, "done")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", progressBar(5, 10, 10))
	assert.Equal(t, "██████████", progressBar(20, 10, 10))
	assert.Equal(t, "░░░░░░░░░░", progressBar(1, 0, 10))
}
