package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rajasaid/InsightOS/internal/retrieve"
)

func TestFormatBundle(t *testing.T) {
	b := twoSpanBundle()
	b.Query = "ship date"
	b.Dropped = 2

	md := FormatBundle(b)
	assert.True(t, strings.HasPrefix(md, "## Context for \"ship date\""))
	assert.Contains(t, md, "Found 2 passages from 2 documents")
	assert.Contains(t, md, "### [1] /docs/plan.md (chunks 0-1, score: 0.91)")
	assert.Contains(t, md, "# Plan\nShip in May.\n\n---")
	assert.Contains(t, md, "### [2] /src/main.go (chunk 4, score: 0.62)")
	assert.Contains(t, md, "```go\nfunc main() {}\n```")
	assert.Contains(t, md, "2 more matching chunk(s) omitted")
}

func TestFormatBundle_Empty(t *testing.T) {
	md := FormatBundle(&retrieve.Bundle{Query: "nothing", Threshold: 0.3})
	assert.Equal(t, `No indexed passages matched "nothing" above similarity 0.30.`, md)
	assert.NotPanics(t, func() { FormatBundle(nil) })
}

func TestFormatStatus(t *testing.T) {
	out := IndexStatusOutput{
		State: "scanning", Documents: 4, FailedDocuments: 1, Chunks: 20, ActiveJobs: 2,
		Formats:   map[string]int{"pdf": 1, "markdown": 3},
		ChunkSize: 1000, ChunkOverlap: 200,
		Embeddings: EmbeddingInfo{Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768, Status: "ready"},
		LastScan:   &ScanSummary{Indexed: 4, Skipped: 1, Cancelled: 1, StartedAt: "2026-05-01T08:59:00Z", DurationMs: 900},
	}
	md := FormatStatus(out)
	assert.Contains(t, md, "**State:** scanning")
	assert.Contains(t, md, "**Active jobs:** 2")
	assert.Contains(t, md, "**Formats:** markdown 3, pdf 1")
	assert.Contains(t, md, "nomic-embed-text (768 dimensions, ready)")
	assert.Contains(t, md, "4 indexed, 1 skipped, 0 failed, 0 removed, 1 cancelled")
	assert.NotContains(t, md, "Last failure")
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		path, format, want string
	}{
		{"/a/readme.md", "markdown", "text/markdown"},
		{"/a/main.go", "code", "text/x-go"},
		{"/a/data.csv", "tabular", "text/csv"},
		{"/a/conf.yaml", "structured", "text/x-yaml"},
		{"/a/report.pdf", "pdf", "text/plain"},
		{"/a/page.html", "html", "text/plain"},
		{"/a/script.zz", "code", "text/plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MimeType(tt.path, tt.format), tt.path)
	}
}
