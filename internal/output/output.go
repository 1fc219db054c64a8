// Package output writes the human-readable CLI output: status lines and
// retrieval results with citations.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rajasaid/InsightOS/internal/retrieve"
)

// Writer formats CLI output. Write errors are ignored; this is console
// output.
type Writer struct {
	out   io.Writer
	color bool

	accent lipgloss.Style
	dim    lipgloss.Style
}

// New returns a Writer without color.
func New(out io.Writer) *Writer {
	return &Writer{out: out, accent: lipgloss.NewStyle(), dim: lipgloss.NewStyle()}
}

// NewColor returns a Writer that colors headings and scores.
func NewColor(out io.Writer) *Writer {
	return &Writer{
		out:    out,
		color:  true,
		accent: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// Status prints msg after icon, or indented when icon is empty.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string)                  { w.Status("✓", msg) }
func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }
func (w *Writer) Warning(msg string)                  { w.Status("!", msg) }
func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }
func (w *Writer) Error(msg string)                    { w.Status("✗", msg) }
func (w *Writer) Errorf(format string, args ...any)   { w.Error(fmt.Sprintf(format, args...)) }

// Code prints content indented by two spaces between blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Bundle prints a retrieval result: each span with its citation header and
// an excerpt, or a single line when nothing matched. full prints whole
// spans instead of excerpts.
func (w *Writer) Bundle(b *retrieve.Bundle, full bool) {
	if b.Empty() {
		q, th := "", 0.0
		if b != nil {
			q, th = b.Query, b.Threshold
		}
		_, _ = fmt.Fprintf(w.out, "No results for %q above similarity %.2f.\n", q, th)
		return
	}

	for i, c := range b.Citations() {
		if i > 0 {
			_, _ = fmt.Fprintln(w.out)
		}
		chunks := fmt.Sprintf("chunk %d", c.FirstIndex)
		if c.LastIndex != c.FirstIndex {
			chunks = fmt.Sprintf("chunks %d-%d", c.FirstIndex, c.LastIndex)
		}
		header := w.accent.Render(fmt.Sprintf("[%d] %s", c.Number, c.SourcePath))
		_, _ = fmt.Fprintf(w.out, "%s %s\n", header, w.dim.Render(fmt.Sprintf("(%s, score %.3f)", chunks, c.Score)))

		text := c.Excerpt
		if full {
			text = b.Spans[i].Text
		}
		for _, line := range strings.Split(text, "\n") {
			_, _ = fmt.Fprintf(w.out, "    %s\n", line)
		}
	}

	if b.OverBudget {
		_, _ = fmt.Fprintln(w.out)
		_, _ = fmt.Fprintln(w.out, w.dim.Render("The top match alone exceeds the context budget; it is shown whole."))
	}
	if b.Dropped > 0 {
		_, _ = fmt.Fprintln(w.out)
		_, _ = fmt.Fprintln(w.out, w.dim.Render(fmt.Sprintf("%d more matching chunk(s) did not fit the context budget.", b.Dropped)))
	}
}

// Progress redraws a single-line progress bar. The line ends once
// current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", progressBar(current, total, 30), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func progressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(max(current*width/total, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
