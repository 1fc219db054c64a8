package retrieve

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/store"
)

// fixedEmbedder maps every query to the same vector.
type fixedEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

func (f *fixedEmbedder) Dimensions() int                  { return len(f.vec) }
func (f *fixedEmbedder) ModelName() string                { return "fixed" }
func (f *fixedEmbedder) Available(_ context.Context) bool { return true }
func (f *fixedEmbedder) Close() error                     { return nil }

// stubSearcher returns canned results and records the request.
type stubSearcher struct {
	results   []store.Result
	err       error
	topK      int
	threshold float64
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, topK int, threshold float64) ([]store.Result, error) {
	s.topK, s.threshold = topK, threshold
	return s.results, s.err
}

type recorded struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorded) RetrievalFinished(ev Event) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, ev.Outcome)
	r.mu.Unlock()
}

func result(path string, idx int, score float64, text string) store.Result {
	return store.Result{
		SourcePath: path,
		ChunkIndex: idx,
		Text:       text,
		Start:      idx * 10,
		End:        idx*10 + len([]rune(text)),
		Format:     "text",
		Score:      score,
	}
}

func newTestRetriever(t *testing.T, s Searcher, opts Options) *Retriever {
	t.Helper()
	r, err := New(&fixedEmbedder{vec: []float32{1, 0}}, s, opts)
	require.NoError(t, err)
	return r
}

// TS01: A best match below the threshold yields an empty bundle, not an error
func TestRetriever_BelowThresholdIsEmpty(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{Dir: t.TempDir(), Dimensions: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	// Given: a single chunk whose similarity to the query is 0.4
	// (score = (1 + cos) / 2, so cos = -0.2)
	y := float32(math.Sqrt(1 - 0.04))
	require.NoError(t, st.Upsert(ctx, []store.Record{{
		SourcePath: "/docs/a.txt", ChunkIndex: 0, Text: "alpha", End: 5, Format: "text",
		Vector: []float32{-0.2, y},
	}}))

	rec := &recorded{}
	r, err := New(&fixedEmbedder{vec: []float32{1, 0}}, st, Options{Threshold: 0.5, Recorder: rec})
	require.NoError(t, err)

	// When: retrieving with the configured threshold of 0.5
	b, err := r.Retrieve(ctx, "what is alpha?", 0, -1)

	// Then: the bundle is empty and no error is returned
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Empty())
	assert.Empty(t, b.Text)
	assert.Equal(t, 0.5, b.Threshold)
	assert.Equal(t, []string{"empty"}, rec.outcomes)

	// When: lowering the threshold below the score
	b, err = r.Retrieve(ctx, "what is alpha?", 0, 0.3)

	// Then: the chunk is returned with its score
	require.NoError(t, err)
	require.Len(t, b.Spans, 1)
	assert.InDelta(t, 0.4, b.Spans[0].Score, 1e-5)
	assert.Equal(t, "/docs/a.txt", b.Spans[0].SourcePath)
}

// TS02: Ranked order from the store is preserved and capped at top_k
func TestRetriever_OrderAndTopK(t *testing.T) {
	s := &stubSearcher{results: []store.Result{
		result("/a", 0, 0.9, "one"),
		result("/a", 5, 0.8, "two"),
		result("/b", 0, 0.8, "three"),
		result("/c", 0, 0.7, "four"),
	}}
	r := newTestRetriever(t, s, Options{TopK: 3, Threshold: 0.1})

	b, err := r.Retrieve(context.Background(), "q", 0, -1)
	require.NoError(t, err)
	require.Len(t, b.Spans, 3)
	assert.Equal(t, 3, s.topK)
	assert.Equal(t, 0.1, s.threshold)
	assert.Equal(t, "one", b.Spans[0].Text)
	assert.Equal(t, "two", b.Spans[1].Text)
	assert.Equal(t, "three", b.Spans[2].Text)

	_, err = r.Retrieve(context.Background(), "q", 500, -1)
	require.NoError(t, err)
	assert.Equal(t, MaxTopK, s.topK)
}

// TS03: Results under the threshold are filtered even if the searcher returns them
func TestRetriever_FiltersThreshold(t *testing.T) {
	s := &stubSearcher{results: []store.Result{
		result("/a", 0, 0.55, "keep"),
		result("/b", 0, 0.45, "drop"),
	}}
	r := newTestRetriever(t, s, Options{Threshold: 0.5})

	b, err := r.Retrieve(context.Background(), "q", 5, -1)
	require.NoError(t, err)
	require.Len(t, b.Spans, 1)
	assert.Equal(t, "keep", b.Spans[0].Text)
}

func TestRetriever_EmptyQuery(t *testing.T) {
	rec := &recorded{}
	emb := &fixedEmbedder{vec: []float32{1, 0}}
	r, err := New(emb, &stubSearcher{}, Options{Recorder: rec})
	require.NoError(t, err)

	for _, q := range []string{"", "   \n\t"} {
		_, err := r.Retrieve(context.Background(), q, 5, 0.3)
		assert.ErrorIs(t, err, ierrors.ErrQueryEmpty)
	}
	assert.Zero(t, emb.calls)
	assert.Equal(t, []string{"error", "error"}, rec.outcomes)
}

func TestRetriever_SearchError(t *testing.T) {
	s := &stubSearcher{err: errors.New("disk gone")}
	r := newTestRetriever(t, s, Options{})

	_, err := r.Retrieve(context.Background(), "q", 5, 0.3)
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeSearchFailed, ierrors.GetCode(err))
}

// TS04: The character budget drops the lowest-ranked chunks whole
func TestRetriever_Budget(t *testing.T) {
	s := &stubSearcher{results: []store.Result{
		result("/a", 0, 0.9, strings.Repeat("a", 40)),
		result("/b", 0, 0.8, strings.Repeat("b", 40)),
		result("/c", 0, 0.7, strings.Repeat("c", 40)),
	}}

	// Given: a budget that fits two chunks
	r := newTestRetriever(t, s, Options{Threshold: 0.1, MaxContextChars: 90})

	// When: retrieving
	b, err := r.Retrieve(context.Background(), "q", 5, -1)

	// Then: the third chunk is dropped and no chunk is truncated
	require.NoError(t, err)
	require.Len(t, b.Spans, 2)
	assert.Equal(t, 1, b.Dropped)
	for _, sp := range b.Spans {
		assert.Len(t, sp.Text, 40)
	}
	assert.Equal(t, []string{"/a", "/b"}, b.Sources())

	// Given: the budget disabled
	r = newTestRetriever(t, s, Options{Threshold: 0.1, MaxContextChars: -1})
	b, err = r.Retrieve(context.Background(), "q", 5, -1)
	require.NoError(t, err)
	assert.Len(t, b.Spans, 3)
	assert.Zero(t, b.Dropped)
	assert.False(t, b.OverBudget)
}

func TestRetriever_BudgetKeepsTopChunk(t *testing.T) {
	s := &stubSearcher{results: []store.Result{
		result("/a", 0, 0.9, strings.Repeat("a", 120)),
		result("/b", 0, 0.8, strings.Repeat("b", 10)),
	}}
	rec := &recorded{}

	// Given: a budget smaller than the best chunk
	r := newTestRetriever(t, s, Options{Threshold: 0.1, MaxContextChars: 50, Recorder: rec})

	// When: retrieving
	b, err := r.Retrieve(context.Background(), "q", 5, -1)

	// Then: the best chunk is returned whole and flagged, not reported as no match
	require.NoError(t, err)
	require.False(t, b.Empty())
	assert.Equal(t, []string{"/a"}, b.Sources())
	assert.Len(t, b.Spans[0].Text, 120)
	assert.True(t, b.OverBudget)
	assert.Equal(t, 1, b.Dropped)
	assert.Equal(t, []string{OutcomeOK}, rec.outcomes)
}

// TS05: Adjacent chunks of one document merge into a single span
func TestRetriever_MergeAdjacent(t *testing.T) {
	s := &stubSearcher{results: []store.Result{
		{SourcePath: "/a", ChunkIndex: 3, Text: "defghij", Start: 3, End: 10, Score: 0.9, Format: "text"},
		{SourcePath: "/b", ChunkIndex: 0, Text: "other", Start: 0, End: 5, Score: 0.85, Format: "markdown"},
		{SourcePath: "/a", ChunkIndex: 4, Text: "hijklmn", Start: 7, End: 14, Score: 0.8, Format: "text"},
		{SourcePath: "/a", ChunkIndex: 2, Text: "abcdef", Start: 0, End: 6, Score: 0.7, Format: "text"},
	}}
	r := newTestRetriever(t, s, Options{Threshold: 0.1, MergeAdjacent: true})

	b, err := r.Retrieve(context.Background(), "q", 10, -1)
	require.NoError(t, err)
	require.Len(t, b.Spans, 2)

	first := b.Spans[0]
	assert.Equal(t, "/a", first.SourcePath)
	assert.Equal(t, 2, first.FirstIndex)
	assert.Equal(t, 4, first.LastIndex)
	assert.Equal(t, 0, first.Start)
	assert.Equal(t, 14, first.End)
	assert.Equal(t, "abcdefghijklmn", first.Text)
	assert.InDelta(t, 0.9, first.Score, 1e-9)

	assert.Equal(t, "/b", b.Spans[1].SourcePath)
	assert.Contains(t, b.Text, "[1] /a (chunks 2-4, score 0.900)")
	assert.Contains(t, b.Text, "[2] /b (chunk 0, score 0.850)")
}

func TestMergeAdjacent_BridgesSpans(t *testing.T) {
	// Chunks 0 and 2 arrive first as separate spans; chunk 1 joins them.
	spans := mergeAdjacent([]store.Result{
		{SourcePath: "/a", ChunkIndex: 0, Text: "abcd", Start: 0, End: 4, Score: 0.9},
		{SourcePath: "/a", ChunkIndex: 2, Text: "ghij", Start: 6, End: 10, Score: 0.8},
		{SourcePath: "/a", ChunkIndex: 1, Text: "defgh", Start: 3, End: 8, Score: 0.7},
	})
	require.Len(t, spans, 1)
	assert.Equal(t, 0, spans[0].FirstIndex)
	assert.Equal(t, 2, spans[0].LastIndex)
	assert.Equal(t, "abcdefghij", spans[0].Text)
	assert.InDelta(t, 0.9, spans[0].Score, 1e-9)
}

func TestMergeAdjacent_KeepsDistantChunksApart(t *testing.T) {
	spans := mergeAdjacent([]store.Result{
		{SourcePath: "/a", ChunkIndex: 0, Text: "x", Start: 0, End: 1, Score: 0.9},
		{SourcePath: "/a", ChunkIndex: 5, Text: "y", Start: 50, End: 51, Score: 0.8},
		{SourcePath: "/b", ChunkIndex: 1, Text: "z", Start: 10, End: 11, Score: 0.7},
	})
	assert.Len(t, spans, 3)
}

func TestBundle_CitationsAndStats(t *testing.T) {
	b := &Bundle{Spans: []Span{
		{SourcePath: "/z", FirstIndex: 0, LastIndex: 0, Text: strings.Repeat("w ", 150), Score: 0.9, Format: "text"},
		{SourcePath: "/a", FirstIndex: 1, LastIndex: 2, Text: "short\n\ntext", Score: 0.5, Format: "markdown"},
		{SourcePath: "/z", FirstIndex: 4, LastIndex: 4, Text: "x", Score: 0.7, Format: "text"},
	}}

	cites := b.Citations()
	require.Len(t, cites, 3)
	assert.Equal(t, 1, cites[0].Number)
	assert.True(t, strings.HasSuffix(cites[0].Excerpt, "..."))
	assert.Len(t, []rune(cites[0].Excerpt), ExcerptLength+3)
	assert.Equal(t, "short text", cites[1].Excerpt)

	st := b.Stats()
	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 0.7, st.AvgScore, 1e-9)
	assert.InDelta(t, 0.5, st.MinScore, 1e-9)
	assert.InDelta(t, 0.9, st.MaxScore, 1e-9)
	assert.Equal(t, 2, st.UniqueSources)
	assert.Equal(t, map[string]int{"text": 2, "markdown": 1}, st.Formats)

	assert.Equal(t, []string{"/a", "/z"}, b.Sources())

	var empty *Bundle
	assert.True(t, empty.Empty())
	assert.Nil(t, empty.Citations())
	assert.Zero(t, empty.Stats().Count)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &stubSearcher{}, Options{})
	assert.Error(t, err)
	_, err = New(&fixedEmbedder{}, nil, Options{})
	assert.Error(t, err)

	r, err := New(&fixedEmbedder{}, &stubSearcher{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, r.opts.TopK)
	assert.Equal(t, DefaultMaxContextChars, r.opts.MaxContextChars)
}
