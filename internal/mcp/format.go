package mcp

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rajasaid/InsightOS/internal/retrieve"
)

// FormatBundle renders a context bundle as markdown.
func FormatBundle(b *retrieve.Bundle) string {
	if b.Empty() {
		query, threshold := "", 0.0
		if b != nil {
			query, threshold = b.Query, b.Threshold
		}
		return fmt.Sprintf("No indexed passages matched \"%s\" above similarity %.2f.", query, threshold)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Context for \"%s\"\n\n", b.Query)
	fmt.Fprintf(&sb, "Found %d passage", len(b.Spans))
	if len(b.Spans) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " from %d document", len(b.Sources()))
	if len(b.Sources()) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, s := range b.Spans {
		formatSpan(&sb, i+1, s)
	}

	if b.Dropped > 0 {
		fmt.Fprintf(&sb, "_%d more matching chunk(s) omitted to fit the context budget._\n", b.Dropped)
	}
	return sb.String()
}

func formatSpan(sb *strings.Builder, num int, s retrieve.Span) {
	chunks := fmt.Sprintf("chunk %d", s.FirstIndex)
	if s.LastIndex != s.FirstIndex {
		chunks = fmt.Sprintf("chunks %d-%d", s.FirstIndex, s.LastIndex)
	}
	fmt.Fprintf(sb, "### [%d] %s (%s, score: %.2f)\n\n", num, s.SourcePath, chunks, s.Score)

	// Markdown passes through; everything else is fenced so stray markup
	// in extracted text does not render.
	if s.Format == "markdown" {
		sb.WriteString(s.Text)
		sb.WriteString("\n\n---\n\n")
		return
	}
	lang := ""
	if s.Format == "code" {
		lang = strings.TrimPrefix(strings.ToLower(filepath.Ext(s.SourcePath)), ".")
	}
	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, s.Text)
}

// FormatStatus renders index_status output as markdown.
func FormatStatus(out IndexStatusOutput) string {
	var sb strings.Builder
	sb.WriteString("## Index Status\n\n")
	fmt.Fprintf(&sb, "**State:** %s\n", out.State)
	fmt.Fprintf(&sb, "**Documents:** %d indexed, %d failed\n", out.Documents, out.FailedDocuments)
	fmt.Fprintf(&sb, "**Chunks:** %d (size %d, overlap %d)\n", out.Chunks, out.ChunkSize, out.ChunkOverlap)
	if out.ActiveJobs > 0 {
		fmt.Fprintf(&sb, "**Active jobs:** %d\n", out.ActiveJobs)
	}

	if len(out.Formats) > 0 {
		names := make([]string, 0, len(out.Formats))
		for f := range out.Formats {
			names = append(names, f)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, f := range names {
			parts[i] = fmt.Sprintf("%s %d", f, out.Formats[f])
		}
		fmt.Fprintf(&sb, "**Formats:** %s\n", strings.Join(parts, ", "))
	}

	e := out.Embeddings
	fmt.Fprintf(&sb, "\n### Embeddings\n\n**Model:** %s (%d dimensions, %s)\n", e.Model, e.Dimensions, e.Status)
	if e.Provider != "" {
		fmt.Fprintf(&sb, "**Provider:** %s\n", e.Provider)
	}

	if ls := out.LastScan; ls != nil {
		sb.WriteString("\n### Last Scan\n\n")
		fmt.Fprintf(&sb, "Started %s, took %dms: %d indexed, %d skipped, %d failed, %d removed",
			ls.StartedAt, ls.DurationMs, ls.Indexed, ls.Skipped, ls.Failed, ls.Deleted)
		if ls.Cancelled > 0 {
			fmt.Fprintf(&sb, ", %d cancelled", ls.Cancelled)
		}
		sb.WriteString("\n")
	}
	if f := out.LastFailure; f != nil {
		fmt.Fprintf(&sb, "\n**Last failure:** %s (%s) at %s: %s\n", f.Path, f.Kind, f.At, f.Message)
	}
	return sb.String()
}
