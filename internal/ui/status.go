package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// StatusInfo is what the status command shows.
type StatusInfo struct {
	IndexDir        string         `json:"index_dir"`
	IndexSize       int64          `json:"index_size"`
	State           string         `json:"state"`
	Documents       int            `json:"documents"`
	FailedDocuments int            `json:"failed_documents"`
	Searchable      int            `json:"searchable"` // documents with chunks
	Chunks          int            `json:"chunks"`
	Vectors         int            `json:"vectors"`
	GraphNodes      int            `json:"graph_nodes"`
	Orphans         int            `json:"orphans"` // deleted, still in the graph
	Formats         map[string]int `json:"formats"`
	ChunkSize       int            `json:"chunk_size"`
	ChunkOverlap    int            `json:"chunk_overlap"`
	Roots           []string       `json:"roots"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	Dimensions       int    `json:"dimensions"`
	EmbedderStatus   string `json:"embedder_status"` // ready, offline

	LastIndexed time.Time     `json:"last_indexed"`
	Failures    []FailureLine `json:"failures,omitempty"`
	Paths       []PathLine    `json:"paths,omitempty"`
}

// PathLine answers whether one requested path is searchable.
type PathLine struct {
	Path    string `json:"path"`
	Indexed bool   `json:"indexed"`
}

// FailureLine is one failed document.
type FailureLine struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusRenderer prints StatusInfo as text or JSON.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor || DetectNoColor()), now: time.Now}
}

// maxFailuresShown caps the failure list in text output.
const maxFailuresShown = 10

func (r *StatusRenderer) Render(info StatusInfo) error {
	w := &errWriter{w: r.out}
	w.printf("%s\n\n", r.styles.Header.Render("Index: "+info.IndexDir))

	w.printf("  State:      %s\n", r.state(info.State))
	w.printf("  Documents:  %d", info.Documents)
	if info.FailedDocuments > 0 {
		w.printf(" (%s)", r.styles.Error.Render(fmt.Sprintf("%d failed", info.FailedDocuments)))
	}
	if info.Searchable != info.Documents-info.FailedDocuments {
		w.printf(", %d searchable", info.Searchable)
	}
	w.printf("\n  Chunks:     %d (size %d, overlap %d)\n", info.Chunks, info.ChunkSize, info.ChunkOverlap)
	w.printf("  Vectors:    %d (graph nodes %d, orphans %d)\n", info.Vectors, info.GraphNodes, info.Orphans)
	w.printf("  Size:       %s\n", FormatBytes(info.IndexSize))
	if !info.LastIndexed.IsZero() {
		w.printf("  Updated:    %s\n", relativeTime(r.now(), info.LastIndexed))
	}
	if len(info.Formats) > 0 {
		w.printf("  Formats:    %s\n", formatCounts(info.Formats))
	}
	if len(info.Roots) > 0 {
		w.printf("  Roots:      %s\n", strings.Join(info.Roots, ", "))
	}

	w.printf("\n  Embedder:\n")
	w.printf("    Provider:   %s\n", info.EmbedderProvider)
	w.printf("    Model:      %s (%d dims)\n", info.EmbedderModel, info.Dimensions)
	w.printf("    Status:     %s\n", r.state(info.EmbedderStatus))

	if len(info.Paths) > 0 {
		w.printf("\n  Paths:\n")
		for _, p := range info.Paths {
			state := r.styles.Success.Render("indexed")
			if !p.Indexed {
				state = r.styles.Warning.Render("not indexed")
			}
			w.printf("    %s: %s\n", p.Path, state)
		}
	}

	if len(info.Failures) > 0 {
		w.printf("\n  Failures:\n")
		for i, f := range info.Failures {
			if i == maxFailuresShown {
				w.printf("    ... and %d more\n", len(info.Failures)-maxFailuresShown)
				break
			}
			w.printf("    %s %s: %s\n", r.styles.Error.Render(f.Kind), f.Path, f.Message)
		}
	}
	return w.err
}

func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) state(s string) string {
	switch s {
	case "ready", "idle":
		return r.styles.Success.Render(s)
	case "scanning", "in use":
		return r.styles.Active.Render(s)
	case "offline":
		return r.styles.Warning.Render(s)
	default:
		return s
	}
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, a ...any) {
	if e.err == nil {
		_, e.err = fmt.Fprintf(e.w, format, a...)
	}
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func relativeTime(now, t time.Time) string {
	d := now.Sub(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders n in B, KB, MB or GB.
func FormatBytes(n int64) string {
	const unit = 1024
	switch {
	case n >= unit*unit*unit:
		return fmt.Sprintf("%.1f GB", float64(n)/(unit*unit*unit))
	case n >= unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	case n >= unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
