package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rajasaid/InsightOS/internal/chunk"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/reader"
	"github.com/rajasaid/InsightOS/internal/scanner"
	"github.com/rajasaid/InsightOS/internal/store"
)

// Job outcomes reported to the Recorder.
const (
	outcomeDone       = "done"
	outcomeFailed     = "failed"
	outcomeUnchanged  = "unchanged"
	outcomeSuperseded = "superseded"
)

// needsIndex decides whether a file with fingerprint fp must be (re)indexed
// given its last recorded document.
//
// Format and extraction failures are not retried until the file changes.
// A timed-out job is retried once more on the next scan. Other failures are
// retried every scan.
func needsIndex(prev *store.Document, fp string) bool {
	if prev == nil || prev.Fingerprint != fp {
		return true
	}
	if prev.Status != store.StatusFailed {
		return false
	}
	switch prev.ErrorKind {
	case ierrors.KindUnsupportedFormat, ierrors.KindExtractionFailed:
		return false
	case ierrors.KindJobTimeout:
		return prev.Attempts < 2
	default:
		return true
	}
}

// process runs one job for f end to end. It returns a nil job when the
// document turned out to be unchanged.
//
// The job runs on a context detached from ctx so that cancelling a scan
// never interrupts a job that has started; only the per-job budget bounds it.
func (m *Manager) process(ctx context.Context, f scanner.FileInfo, fingerprint string) (*Job, error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	prev, err := m.store.GetDocument(jobCtx, f.Path)
	if err != nil {
		return nil, err
	}
	if !needsIndex(prev, fingerprint) {
		m.record(outcomeUnchanged, 0)
		return nil, nil
	}

	job := newJob(m.jobSeq.Add(1), f.Path, fingerprint, m.notify)
	job.Size, job.ModTime = f.Size, f.ModTime
	m.status.jobStarted()
	defer m.status.jobEnded()

	err = m.run(jobCtx, job)
	if err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !isFatal(err) {
			err = ierrors.JobTimeout(job.Path, m.timeout)
		}
		_ = job.fail(err)
		m.recordFailure(jobCtx, job, prev, err)
		m.record(outcomeFailed, time.Since(job.Started))

		attrs := []any{slog.String("path", job.Path), slog.Uint64("job_id", job.ID)}
		slog.Warn("job_failed", append(attrs, ierrors.LogAttrs(err)...)...)
		return job, err
	}

	m.record(outcomeDone, time.Since(job.Started))
	slog.Debug("job_complete",
		slog.String("path", job.Path),
		slog.Int("chunks", job.Chunks),
		slog.Duration("duration", time.Since(job.Started)))
	return job, nil
}

// run moves job through read, chunk, embed and write.
func (m *Manager) run(ctx context.Context, job *Job) error {
	if err := job.advance(StateReading, nil); err != nil {
		return err
	}
	doc, err := bounded(ctx, func() (*reader.Document, error) {
		return m.reader.Extract(ctx, job.Path)
	})
	if err != nil {
		return err
	}

	if err := job.advance(StateChunking, nil); err != nil {
		return err
	}
	chunks, err := bounded(ctx, func() ([]chunk.Chunk, error) {
		return m.chunker.Split(doc.Text), nil
	})
	if err != nil {
		return err
	}
	if st := chunk.Statistics(chunks); st.Count > 0 {
		slog.Debug("document_chunked",
			slog.String("path", job.Path),
			slog.Int("chunks", st.Count),
			slog.Float64("avg_chars", st.AvgChars),
			slog.Int("max_chars", st.MaxChars))
	}

	if err := job.advance(StateEmbedding, nil); err != nil {
		return err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = bounded(ctx, func() ([][]float32, error) {
			return m.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return err
		}
		if len(vectors) != len(chunks) {
			return ierrors.New(ierrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)), nil)
		}
	}

	// Nothing has been written yet; a job over budget stops here.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := job.advance(StateWriting, nil); err != nil {
		return err
	}

	// The write stage runs to completion once begun.
	wctx := context.WithoutCancel(ctx)
	records := make([]store.Record, len(chunks))
	for i, c := range chunks {
		records[i] = store.Record{
			SourcePath: job.Path,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Start:      c.Start,
			End:        c.End,
			Format:     doc.Format,
			Vector:     vectors[i],
		}
	}
	// New chunk ids first, then drop indices past the new end, so a
	// concurrent search never sees the document without chunks.
	if len(records) > 0 {
		if err := m.store.Upsert(wctx, records); err != nil {
			return err
		}
	}
	if err := m.store.DeleteStale(wctx, job.Path, len(records)); err != nil {
		return err
	}
	if err := m.store.PutDocument(wctx, store.Document{
		Path:        job.Path,
		Fingerprint: job.Fingerprint,
		Size:        job.Size,
		ModTime:     job.ModTime,
		Format:      doc.Format,
		Chunks:      len(records),
		IndexedAt:   time.Now(),
		Status:      store.StatusIndexed,
	}); err != nil {
		return err
	}

	job.Chunks = len(records)
	return job.advance(StateDone, nil)
}

// bounded runs fn on its own goroutine and returns when fn finishes or ctx
// is done, whichever comes first. A result that arrives after ctx is done is
// discarded. fn must not touch the job: it may outlive it.
func bounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// recordFailure stores the failed attempt so the next scan can apply the
// retry policy. Chunks from an earlier successful index are left in place.
func (m *Manager) recordFailure(ctx context.Context, job *Job, prev *store.Document, cause error) {
	kind := ierrors.KindOf(cause)
	if kind == "" {
		kind = ierrors.KindInternal
	}

	doc := store.Document{
		Path:         job.Path,
		Fingerprint:  job.Fingerprint,
		Size:         job.Size,
		ModTime:      job.ModTime,
		Status:       store.StatusFailed,
		ErrorKind:    kind,
		ErrorMessage: cause.Error(),
		Attempts:     1,
	}
	if prev != nil {
		doc.Format = prev.Format
		doc.Chunks = prev.Chunks
		doc.IndexedAt = prev.IndexedAt
		if prev.Status == store.StatusFailed && prev.Fingerprint == job.Fingerprint {
			doc.Attempts = prev.Attempts + 1
		}
	}

	m.status.failure(FailureInfo{Kind: kind, Path: job.Path, Message: cause.Error(), At: time.Now()})

	if err := m.store.PutDocument(context.WithoutCancel(ctx), doc); err != nil {
		slog.Debug("record_failure_failed", slog.String("path", job.Path), slog.String("error", err.Error()))
	}
}

func (m *Manager) record(outcome string, d time.Duration) {
	if m.opts.Recorder != nil {
		m.opts.Recorder.JobFinished(outcome, d)
	}
}
