package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Document status values.
const (
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
)

// Document is the bookkeeping row of a source file. For failed documents
// Fingerprint is the fingerprint of the attempt that failed.
type Document struct {
	Path         string    `json:"path"`
	Fingerprint  string    `json:"fingerprint"`
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"mod_time"`
	Format       string    `json:"format"`
	Chunks       int       `json:"chunks"`
	IndexedAt    time.Time `json:"indexed_at"`
	Status       string    `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
}

const documentColumns = `path, fingerprint, size, mod_time, format, chunks, indexed_at, status, error_kind, error_message, attempts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d               Document
		modTime, idxdAt int64
	)
	if err := row.Scan(&d.Path, &d.Fingerprint, &d.Size, &modTime, &d.Format, &d.Chunks,
		&idxdAt, &d.Status, &d.ErrorKind, &d.ErrorMessage, &d.Attempts); err != nil {
		return nil, err
	}
	d.ModTime = fromUnixNano(modTime)
	d.IndexedAt = fromUnixNano(idxdAt)
	return &d, nil
}

// GetDocument returns the row for path, or nil when there is none.
func (s *Store) GetDocument(ctx context.Context, path string) (*Document, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(ctx, "get document", err)
	}
	return d, nil
}

// PutDocument inserts or replaces the row for d.Path.
func (s *Store) PutDocument(ctx context.Context, d Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			size = excluded.size,
			mod_time = excluded.mod_time,
			format = excluded.format,
			chunks = excluded.chunks,
			indexed_at = excluded.indexed_at,
			status = excluded.status,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			attempts = excluded.attempts`,
		d.Path, d.Fingerprint, d.Size, unixNano(d.ModTime), d.Format, d.Chunks,
		unixNano(d.IndexedAt), d.Status, d.ErrorKind, d.ErrorMessage, d.Attempts)
	if err != nil {
		return storeErr(ctx, "put document", err)
	}
	return nil
}

// ListDocuments returns every row ordered by path.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, storeErr(ctx, "list documents", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, storeErr(ctx, "list documents", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "list documents", err)
	}
	return out, nil
}

// DeleteDocument removes the row for path. Chunks are not touched.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return storeErr(ctx, "delete document", err)
	}
	return nil
}

// MarkAllStale clears every stored fingerprint so the next scan treats
// all documents as changed. Chunks stay searchable until replaced.
func (s *Store) MarkAllStale(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET fingerprint = '', attempts = 0`)
	if err != nil {
		return 0, storeErr(ctx, "mark stale", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetState returns the value stored under key.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	if err := s.readable(); err != nil {
		return "", false, err
	}
	return s.getState(ctx, key)
}

// SetState stores value under key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	return s.setState(ctx, key, value)
}

func (s *Store) getState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr(ctx, "get state", err)
	}
	return v, true, nil
}

func (s *Store) setState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return storeErr(ctx, "set state", err)
	}
	return nil
}

func (s *Store) readable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
