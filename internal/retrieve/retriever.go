// Package retrieve turns a natural-language query into a ranked,
// citation-bearing Context Bundle drawn from the vector store.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rajasaid/InsightOS/internal/embed"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/store"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTopK            = 5
	DefaultThreshold       = 0.3
	DefaultMaxContextChars = 8000
	MaxTopK                = 20
)

// Searcher is the read side of the vector store.
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int, threshold float64) ([]store.Result, error)
}

// Retrieval outcomes reported to a Recorder.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Event describes one finished retrieval.
type Event struct {
	Query    string
	Outcome  string
	Spans    int
	Duration time.Duration
}

// Recorder receives retrieval outcomes, typically for metrics.
type Recorder interface {
	RetrievalFinished(ev Event)
}

// Options configures a Retriever.
type Options struct {
	TopK      int
	Threshold float64

	// MaxContextChars bounds the total characters of chunk text in a bundle.
	// Negative disables the budget.
	MaxContextChars int

	// MergeAdjacent coalesces neighbouring chunks of one document into a span.
	MergeAdjacent bool

	Recorder Recorder
}

// Retriever serves top-K similarity retrieval. It is safe for concurrent use.
type Retriever struct {
	embedder embed.Embedder
	searcher Searcher
	opts     Options
}

// New returns a Retriever. A zero TopK or MaxContextChars takes the package
// default; Threshold is used as given.
func New(embedder embed.Embedder, searcher Searcher, opts Options) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxContextChars == 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	return &Retriever{embedder: embedder, searcher: searcher, opts: opts}, nil
}

// Retrieve embeds query, searches the store and assembles a bundle.
//
// topK <= 0 and threshold < 0 select the configured defaults. No result
// above the threshold yields an empty bundle, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, threshold float64) (*Bundle, error) {
	start := time.Now()
	b, err := r.retrieve(ctx, query, topK, threshold)

	ev := Event{Query: query, Outcome: OutcomeOK, Duration: time.Since(start)}
	switch {
	case err != nil:
		ev.Outcome = OutcomeError
	case b.Empty():
		ev.Outcome = OutcomeEmpty
	default:
		ev.Spans = len(b.Spans)
	}
	if r.opts.Recorder != nil {
		r.opts.Recorder.RetrievalFinished(ev)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("retrieve_complete",
		slog.Int("query_len", len(query)),
		slog.Int("top_k", topK),
		slog.Int("spans", len(b.Spans)),
		slog.Int("dropped", b.Dropped),
		slog.Bool("over_budget", b.OverBudget),
		slog.Duration("duration", time.Since(start)))
	return b, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, topK int, threshold float64) (*Bundle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ierrors.ErrQueryEmpty
	}
	if topK <= 0 {
		topK = r.opts.TopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if threshold < 0 {
		threshold = r.opts.Threshold
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := r.searcher.Search(ctx, vec, topK, threshold)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "search failed", err)
	}

	kept := results[:0:0]
	for _, res := range results {
		if res.Score >= threshold {
			kept = append(kept, res)
		}
	}
	if len(kept) > topK {
		kept = kept[:topK]
	}

	b := &Bundle{Query: query, Threshold: threshold}
	if len(kept) == 0 {
		return b, nil
	}

	budgeted, over := applyBudget(kept, r.opts.MaxContextChars)
	b.OverBudget = over
	b.Dropped = len(kept) - len(budgeted)

	if r.opts.MergeAdjacent {
		b.Spans = mergeAdjacent(budgeted)
	} else {
		b.Spans = make([]Span, len(budgeted))
		for i, res := range budgeted {
			b.Spans[i] = spanOf(res)
		}
	}
	b.Text = formatContext(b.Spans)
	return b, nil
}

// applyBudget keeps the longest prefix of the ranked results whose chunk
// text fits in budget characters. Lower-ranked chunks go first; no chunk is
// cut. The top result is always kept, so over reports whether it alone
// exceeds the budget.
func applyBudget(results []store.Result, budget int) (kept []store.Result, over bool) {
	if budget < 0 || len(results) == 0 {
		return results, false
	}
	used := len([]rune(results[0].Text))
	if used > budget {
		return results[:1], true
	}
	for i, res := range results[1:] {
		n := len([]rune(res.Text))
		if used+n > budget {
			return results[:i+1], false
		}
		used += n
	}
	return results, false
}
