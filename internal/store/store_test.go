package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

func openTest(t *testing.T, dir string, dims int) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Dir: dir, Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(path string, idx int, vec ...float32) Record {
	return Record{
		SourcePath: path,
		ChunkIndex: idx,
		Text:       fmt.Sprintf("%s#%d", path, idx),
		Start:      idx * 10,
		End:        idx*10 + 12,
		Format:     "text",
		Vector:     vec,
	}
}

func paths(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = fmt.Sprintf("%s#%d", r.SourcePath, r.ChunkIndex)
	}
	return out
}

// TS01: Search orders by score and honors top_k and threshold
func TestStore_Search(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 3)

	require.NoError(t, s.Upsert(ctx, []Record{
		rec("a.txt", 0, 1, 0, 0),
		rec("a.txt", 1, 0.8, 0.6, 0),
		rec("b.txt", 0, 0, 1, 0),
		rec("c.txt", 0, -1, 0, 0),
	}))

	results, err := s.Search(ctx, []float32{2, 0, 0}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt#0", "a.txt#1", "b.txt#0"}, paths(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.InDelta(t, 0.9, results[1].Score, 1e-6)
	assert.InDelta(t, 0.5, results[2].Score, 1e-6)
	assert.Equal(t, "a.txt#0", results[0].Text)

	results, err = s.Search(ctx, []float32{1, 0, 0}, 10, 0.6)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.6)
	}

	results, err = s.Search(ctx, []float32{1, 0, 0}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS02: Equal scores are ordered by source path then chunk index
func TestStore_Search_TieBreak(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 2)

	// Given: identical vectors in b.txt and a.txt, inserted b first
	require.NoError(t, s.Upsert(ctx, []Record{rec("b.txt", 0, 0.6, 0.8)}))
	require.NoError(t, s.Upsert(ctx, []Record{rec("a.txt", 3, 0.6, 0.8), rec("a.txt", 1, 0.6, 0.8)}))

	// When: searching with a query that scores every chunk the same
	results, err := s.Search(ctx, []float32{0.6, 0.8}, 5, 0)

	// Then: a.txt comes first, lower chunk index first
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt#1", "a.txt#3", "b.txt#0"}, paths(results))
	assert.Equal(t, results[0].Score, results[2].Score)
}

// TS03: Upsert is idempotent per (source, index)
func TestStore_Upsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 2)

	r := rec("doc.md", 0, 1, 0)
	require.NoError(t, s.Upsert(ctx, []Record{r}))
	require.NoError(t, s.Upsert(ctx, []Record{r}))
	r.Text = "replaced"
	r.Vector = []float32{0, 1}
	require.NoError(t, s.Upsert(ctx, []Record{r}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := s.Search(ctx, []float32{0, 1}, 1, 0.99)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "replaced", results[0].Text)
	assert.False(t, results[0].InsertedAt.IsZero())
}

// TS04: Delete by source and stale-tail reconciliation
func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 2)

	var recs []Record
	for i := range 5 {
		recs = append(recs, rec("long.txt", i, 1, float32(i)))
	}
	recs = append(recs, rec("other.txt", 0, 0, 1))
	require.NoError(t, s.Upsert(ctx, recs))

	require.NoError(t, s.DeleteStale(ctx, "long.txt", 3))
	n, err := s.CountBySource(ctx, "long.txt")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	chunks, err := s.Chunks(ctx, "long.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"long.txt#0", "long.txt#1", "long.txt#2"}, paths(chunks))

	require.NoError(t, s.DeleteBySource(ctx, "long.txt"))
	results, err := s.Search(ctx, []float32{1, 0}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"other.txt#0"}, paths(results))

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other.txt"}, sources)

	// Deleting an unknown source is a no-op.
	require.NoError(t, s.DeleteBySource(ctx, "missing.txt"))
}

// TS05: Records, documents and state survive reopen
func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Options{Dir: dir, Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, []Record{rec("a.txt", 0, 1, 0), rec("a.txt", 1, 0, 1)}))
	require.NoError(t, s.PutDocument(ctx, Document{
		Path: "a.txt", Fingerprint: "fp1", Size: 42, ModTime: time.Unix(100, 5),
		Format: "text", Chunks: 2, IndexedAt: time.Unix(200, 0), Status: StatusIndexed,
	}))
	require.NoError(t, s.SetState(ctx, "config_signature", "abc"))
	require.NoError(t, s.Close())

	// Reopen without dimensions adopts the stored value.
	s2, err := Open(ctx, Options{Dir: dir})
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	assert.Equal(t, 2, s2.Dimensions())
	n, err := s2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := s2.Search(ctx, []float32{0, 1}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt#1"}, paths(results))
	assert.Equal(t, 10, results[0].Start)

	doc, err := s2.GetDocument(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "fp1", doc.Fingerprint)
	assert.Equal(t, time.Unix(100, 5).UnixNano(), doc.ModTime.UnixNano())
	assert.Equal(t, 2, doc.Chunks)

	v, ok, err := s2.GetState(ctx, "config_signature")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}

// TS06: Dimension mismatches fail fast
func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, Options{Dir: dir, Dimensions: 3})
	require.NoError(t, err)

	err = s.Upsert(ctx, []Record{rec("a.txt", 0, 1, 0)})
	assert.ErrorIs(t, err, ierrors.ErrDimensionMismatch)

	require.NoError(t, s.Upsert(ctx, []Record{rec("a.txt", 0, 1, 0, 0)}))
	_, err = s.Search(ctx, []float32{1, 0}, 1, 0)
	assert.ErrorIs(t, err, ierrors.ErrDimensionMismatch)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Dir: dir, Dimensions: 768})
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrDimensionMismatch)
	assert.True(t, ierrors.IsFatal(err))
}

// TS07: A second writer is rejected until the first closes
func TestStore_WriterLock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, Options{Dir: dir, Dimensions: 2})
	require.NoError(t, err)

	_, err = Open(ctx, Options{Dir: dir, Dimensions: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrIndexLocked)

	// A read-only handle does not need the lock.
	ro, err := Open(ctx, Options{Dir: dir, ReadOnly: true})
	require.NoError(t, err)
	assert.ErrorIs(t, ro.Upsert(ctx, []Record{rec("a.txt", 0, 1, 0)}), ErrReadOnly)
	assert.ErrorIs(t, ro.DeleteBySource(ctx, "a.txt"), ErrReadOnly)
	require.NoError(t, ro.Close())

	require.NoError(t, s.Close())
	s2, err := Open(ctx, Options{Dir: dir, Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestStore_ReadOnlyMissing(t *testing.T) {
	_, err := Open(context.Background(), Options{Dir: t.TempDir(), ReadOnly: true})

	assert.ErrorIs(t, err, ierrors.ErrStoreUnavailable)
}

// A read-only handle follows the writer's commits instead of serving the
// chunks it loaded at Open.
func TestStore_ReadOnlyFollowsWriter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := openTest(t, dir, 2)
	require.NoError(t, w.Upsert(ctx, []Record{rec("/gone.txt", 0, 1, 0), rec("/kept.txt", 0, 0, 1)}))

	// Given: a reader opened after the first commit
	ro, err := Open(ctx, Options{Dir: dir, ReadOnly: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })
	results, err := ro.Search(ctx, []float32{1, 0}, 5, 0.9)
	require.NoError(t, err)
	assert.Equal(t, []string{"/gone.txt#0"}, paths(results))

	// When: the writer deletes a source
	require.NoError(t, w.DeleteBySource(ctx, "/gone.txt"))

	// Then: the reader no longer returns it
	results, err = ro.Search(ctx, []float32{1, 0}, 5, 0.9)
	require.NoError(t, err)
	assert.Empty(t, results)
	n, err := ro.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// And: new chunks become visible too
	require.NoError(t, w.Upsert(ctx, []Record{rec("/new.txt", 0, 0.6, 0.8)}))
	sources, err := ro.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/kept.txt", "/new.txt"}, sources)

	// A delete that matched nothing does not force a reload
	gen := ro.gen
	require.NoError(t, w.DeleteStale(ctx, "/kept.txt", 1))
	_, err = ro.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, gen, ro.gen)

	// Clear empties the reader as well
	require.NoError(t, w.Clear(ctx))
	n, err = ro.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TS08: Large collections use the graph and still return exact scores
func TestStore_Search_Graph(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Dir: t.TempDir(), Dimensions: 16, ExactSearchLimit: 10})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	rng := rand.New(rand.NewPCG(1, 2))
	var recs []Record
	for i := range 300 {
		v := make([]float32, 16)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		recs = append(recs, rec(fmt.Sprintf("doc%03d.txt", i), 0, v...))
	}
	require.NoError(t, s.Upsert(ctx, recs))

	for _, i := range []int{0, 57, 123, 299} {
		results, err := s.Search(ctx, recs[i].Vector, 3, 0)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, recs[i].SourcePath, results[0].SourcePath)
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
		assert.LessOrEqual(t, len(results), 3)
	}

	// Deleted chunks never come back from the graph.
	require.NoError(t, s.DeleteBySource(ctx, recs[57].SourcePath))
	results, err := s.Search(ctx, recs[57].Vector, 5, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, recs[57].SourcePath, r.SourcePath)
	}
	stats := s.GraphStats()
	assert.Equal(t, 299, stats.Vectors)
	assert.Equal(t, 1, stats.Orphans)
}

// TS09: Searches never observe a partially replaced source
func TestStore_ConcurrentSearchSeesWholeSource(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 2)

	var recs []Record
	for i := range 5 {
		recs = append(recs, rec("x.txt", i, 1, 0))
	}
	require.NoError(t, s.Upsert(ctx, recs))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := s.Search(ctx, []float32{1, 0}, 10, 0)
				if !assert.NoError(t, err) {
					return
				}
				n := len(results)
				assert.True(t, n == 0 || n == 5, "saw %d chunks", n)
			}
		}()
	}

	for range 50 {
		require.NoError(t, s.DeleteBySource(ctx, "x.txt"))
		require.NoError(t, s.Upsert(ctx, recs))
	}
	close(stop)
	wg.Wait()
}

func TestStore_Documents(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 2)

	doc, err := s.GetDocument(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.PutDocument(ctx, Document{Path: "b.txt", Fingerprint: "fb", Status: StatusIndexed}))
	require.NoError(t, s.PutDocument(ctx, Document{
		Path: "a.txt", Fingerprint: "fa", Status: StatusFailed,
		ErrorKind: "ExtractionFailed", ErrorMessage: "bad", Attempts: 1,
	}))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].Path)
	assert.Equal(t, "ExtractionFailed", docs[0].ErrorKind)

	n, err := s.MarkAllStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	doc, err = s.GetDocument(ctx, "b.txt")
	require.NoError(t, err)
	assert.Empty(t, doc.Fingerprint)

	require.NoError(t, s.DeleteDocument(ctx, "a.txt"))
	docs, err = s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 2)
	require.NoError(t, s.Upsert(ctx, []Record{rec("a.txt", 0, 1, 0)}))
	require.NoError(t, s.PutDocument(ctx, Document{Path: "a.txt", Status: StatusIndexed}))

	require.NoError(t, s.Clear(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 2, s.Dimensions())
}

func TestStore_ZeroVector(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, t.TempDir(), 2)
	require.NoError(t, s.Upsert(ctx, []Record{rec("blank.txt", 0, 0, 0)}))

	results, err := s.Search(ctx, []float32{1, 0}, 1, 0)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Dir: t.TempDir(), Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Upsert(ctx, []Record{rec("a", 0, 1, 0)}), ErrClosed)
	_, err = s.Search(ctx, []float32{1, 0}, 1, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4028235e38}

	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
