package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/coder/hnsw"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// Record is one chunk with its vector. Identity is (SourcePath, ChunkIndex).
type Record struct {
	SourcePath string
	ChunkIndex int
	Text       string
	Start      int
	End        int
	Format     string
	Vector     []float32

	// InsertedAt is assigned by Upsert.
	InsertedAt time.Time
}

// Result is a search hit. Score is (1+cos)/2, in [0, 1].
type Result struct {
	SourcePath string    `json:"source_path"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Format     string    `json:"format"`
	Score      float64   `json:"score"`
	InsertedAt time.Time `json:"inserted_at"`
}

type chunkKey struct {
	path  string
	index int
}

type entry struct {
	key  uint64 // graph key; 0 when not in the graph
	rec  Record // Vector is unit length
	zero bool
}

// Upsert inserts or replaces records. All records are written in one
// transaction; on error nothing is applied.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if s.dims == 0 {
		s.dims = len(records[0].Vector)
		if err := s.setState(ctx, stateDimensions, fmt.Sprint(s.dims)); err != nil {
			s.dims = 0
			return err
		}
	}
	for _, r := range records {
		if len(r.Vector) != s.dims {
			return ierrors.DimensionMismatch(s.dims, len(r.Vector))
		}
	}

	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(ctx, "upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (source_path, chunk_index, text, start_offset, end_offset, format, vector, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_path, chunk_index) DO UPDATE SET
			text = excluded.text,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			format = excluded.format,
			vector = excluded.vector,
			inserted_at = excluded.inserted_at`)
	if err != nil {
		return storeErr(ctx, "upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.SourcePath, r.ChunkIndex, r.Text, r.Start, r.End,
			r.Format, encodeVector(r.Vector), now.UnixNano()); err != nil {
			return storeErr(ctx, "upsert", err)
		}
	}
	if err := bumpGeneration(ctx, tx); err != nil {
		return storeErr(ctx, "upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(ctx, "upsert", err)
	}

	for _, r := range records {
		r.InsertedAt = now
		r.Vector = unitCopy(r.Vector)
		s.put(r)
	}
	s.maybeCompact()
	return nil
}

// DeleteBySource removes every chunk of path.
func (s *Store) DeleteBySource(ctx context.Context, path string) error {
	return s.deleteWhere(ctx, path, 0)
}

// DeleteStale removes the chunks of path whose index is >= keep. After a
// re-index produced keep chunks, this drops the leftovers of the previous
// version.
func (s *Store) DeleteStale(ctx context.Context, path string, keep int) error {
	return s.deleteWhere(ctx, path, max(keep, 0))
}

func (s *Store) deleteWhere(ctx context.Context, path string, from int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(ctx, "delete", err)
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE source_path = ? AND chunk_index >= ?`, path, from)
	if err != nil {
		return storeErr(ctx, "delete", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := bumpGeneration(ctx, tx); err != nil {
			return storeErr(ctx, "delete", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr(ctx, "delete", err)
	}

	for idx := range s.sources[path] {
		if idx >= from {
			s.remove(chunkKey{path, idx})
		}
	}
	return nil
}

// Clear removes every chunk and document. Stored dimensions are kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(ctx, "clear", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{`DELETE FROM chunks`, `DELETE FROM documents`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return storeErr(ctx, "clear", err)
		}
	}
	if err := bumpGeneration(ctx, tx); err != nil {
		return storeErr(ctx, "clear", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(ctx, "clear", err)
	}

	s.resetMemory()
	return nil
}

// Search returns at most topK chunks with score >= threshold, ordered by
// descending score and then ascending (source path, chunk index).
func (s *Store) Search(ctx context.Context, query []float32, topK int, threshold float64) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if topK <= 0 || len(s.entries) == 0 {
		return []Result{}, nil
	}
	if len(query) != s.dims {
		return nil, ierrors.DimensionMismatch(s.dims, len(query))
	}

	q := unitCopy(query)
	var candidates []*entry
	if len(s.entries) <= s.opts.ExactSearchLimit || s.graph.Len() == 0 {
		candidates = make([]*entry, 0, len(s.entries))
		for _, e := range s.entries {
			candidates = append(candidates, e)
		}
	} else {
		candidates = s.graphCandidates(q, topK)
	}

	results := make([]Result, 0, min(topK, len(candidates)))
	for _, e := range candidates {
		score := (1 + dot(q, e.rec.Vector)) / 2
		if score < threshold {
			continue
		}
		results = append(results, e.result(score))
	}
	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// graphCandidates asks the graph for an oversampled neighbor set. Scores
// are recomputed exactly by the caller, so the graph only has to find
// the right neighborhood. Zero vectors are never in the graph and are
// scanned directly.
func (s *Store) graphCandidates(q []float32, topK int) []*entry {
	k := min(topK*s.opts.Oversample+s.orphans, s.graph.Len())
	nodes := s.graph.Search(q, k)

	out := make([]*entry, 0, len(nodes))
	for _, n := range nodes {
		ck, ok := s.byKey[n.Key]
		if !ok {
			continue // lazily deleted
		}
		out = append(out, s.entries[ck])
	}
	for _, e := range s.entries {
		if e.zero {
			out = append(out, e)
		}
	}
	return out
}

func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		if rs[i].SourcePath != rs[j].SourcePath {
			return rs[i].SourcePath < rs[j].SourcePath
		}
		return rs[i].ChunkIndex < rs[j].ChunkIndex
	})
}

// Count returns the number of chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.refresh(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.entries), nil
}

// CountBySource returns the number of chunks stored for path.
func (s *Store) CountBySource(ctx context.Context, path string) (int, error) {
	if err := s.refresh(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.sources[path]), nil
}

// Sources returns the paths that have at least one chunk, sorted.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(s.sources))
	for p := range s.sources {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Chunks returns the stored chunks of path in index order, without vectors.
func (s *Store) Chunks(ctx context.Context, path string) ([]Result, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Result, 0, len(s.sources[path]))
	for idx := range s.sources[path] {
		out = append(out, s.entries[chunkKey{path, idx}].result(0))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// GraphStats reports live vectors and lazily deleted graph nodes.
type GraphStats struct {
	Vectors    int `json:"vectors"`
	GraphNodes int `json:"graph_nodes"`
	Orphans    int `json:"orphans"`
}

// GraphStats returns the in-memory index statistics.
func (s *Store) GraphStats() GraphStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return GraphStats{}
	}
	return GraphStats{Vectors: len(s.entries), GraphNodes: s.graph.Len(), Orphans: s.orphans}
}

func (e *entry) result(score float64) Result {
	return Result{
		SourcePath: e.rec.SourcePath,
		ChunkIndex: e.rec.ChunkIndex,
		Text:       e.rec.Text,
		Start:      e.rec.Start,
		End:        e.rec.End,
		Format:     e.rec.Format,
		Score:      score,
		InsertedAt: e.rec.InsertedAt,
	}
}

// load rebuilds memory from the chunks table.
func (s *Store) load(ctx context.Context) error {
	s.resetMemory()

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_path, chunk_index, text, start_offset, end_offset, format, vector, inserted_at
		FROM chunks ORDER BY source_path, chunk_index`)
	if err != nil {
		return storeErr(ctx, "load", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			r    Record
			blob []byte
			ins  int64
		)
		if err := rows.Scan(&r.SourcePath, &r.ChunkIndex, &r.Text, &r.Start, &r.End, &r.Format, &blob, &ins); err != nil {
			return storeErr(ctx, "load", err)
		}
		r.Vector = decodeVector(blob)
		if s.dims > 0 && len(r.Vector) != s.dims {
			return ierrors.DimensionMismatch(s.dims, len(r.Vector))
		}
		r.InsertedAt = fromUnixNano(ins)
		r.Vector = normalize(r.Vector)
		s.put(r)
	}
	if err := rows.Err(); err != nil {
		return storeErr(ctx, "load", err)
	}
	return nil
}

func (s *Store) resetMemory() {
	s.entries = make(map[chunkKey]*entry)
	s.sources = make(map[string]map[int]struct{})
	s.byKey = make(map[uint64]chunkKey)
	s.graph = s.newGraph()
	s.nextKey = 1
	s.orphans = 0
}

func (s *Store) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.opts.M
	g.EfSearch = s.opts.EfSearch
	g.Ml = 0.25
	return g
}

// put adds or replaces r in memory. r.Vector must be unit length or zero.
// Replaced graph nodes are orphaned rather than deleted from the graph.
func (s *Store) put(r Record) {
	ck := chunkKey{r.SourcePath, r.ChunkIndex}
	if _, ok := s.entries[ck]; ok {
		s.remove(ck)
	}

	e := &entry{rec: r, zero: isZero(r.Vector)}
	if !e.zero {
		e.key = s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(e.key, r.Vector))
		s.byKey[e.key] = ck
	}
	s.entries[ck] = e

	idx := s.sources[r.SourcePath]
	if idx == nil {
		idx = make(map[int]struct{})
		s.sources[r.SourcePath] = idx
	}
	idx[r.ChunkIndex] = struct{}{}
}

func (s *Store) remove(ck chunkKey) {
	e, ok := s.entries[ck]
	if !ok {
		return
	}
	delete(s.entries, ck)
	if !e.zero {
		delete(s.byKey, e.key)
		s.orphans++
	}
	if idx := s.sources[ck.path]; idx != nil {
		delete(idx, ck.index)
		if len(idx) == 0 {
			delete(s.sources, ck.path)
		}
	}
}

// maybeCompact rebuilds the graph once orphans outnumber live vectors.
func (s *Store) maybeCompact() {
	if s.orphans < 1024 || s.orphans < len(s.byKey) {
		return
	}
	g := s.newGraph()
	for key, ck := range s.byKey {
		g.Add(hnsw.MakeNode(key, s.entries[ck].rec.Vector))
	}
	s.graph = g
	s.orphans = 0
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func unitCopy(v []float32) []float32 {
	return normalize(append([]float32(nil), v...))
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return min(max(sum, -1), 1)
}
