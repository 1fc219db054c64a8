// Package reader extracts normalized plain text and structural metadata
// from local files. A Registry maps file extensions to Readers; unknown
// extensions are a typed UnsupportedFormat error, never a silent no-op.
package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// Document is the output of a Reader.
type Document struct {
	Text     string
	Format   string
	Metadata map[string]any
}

// Reader extracts text from one family of formats.
type Reader interface {
	Name() string
	Extensions() []string
	Read(ctx context.Context, path string) (*Document, error)
}

// Options configures a Registry.
type Options struct {
	// Normalize applies Normalize to every extracted text.
	Normalize bool
}

// Registry is a concurrency-safe extension -> Reader map.
type Registry struct {
	mu        sync.RWMutex
	byExt     map[string]Reader
	normalize bool
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		byExt:     make(map[string]Reader),
		normalize: opts.Normalize,
	}
}

// NewDefaultRegistry returns a registry with every built-in reader.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry(opts)
	r.Register(NewTextReader())
	r.Register(NewRTFReader())
	r.Register(NewMarkdownReader())
	r.Register(NewHTMLReader())
	r.Register(NewTabularReader())
	r.Register(NewCodeReader())
	r.Register(NewStructuredReader())
	r.Register(NewDocxReader())
	r.Register(NewPDFReader())
	return r
}

// Register adds rd for each of its extensions, replacing earlier readers.
func (r *Registry) Register(rd Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range rd.Extensions() {
		r.byExt[normalizeExt(ext)] = rd
	}
}

// Lookup returns the reader for ext (with or without the leading dot).
func (r *Registry) Lookup(ext string) (Reader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.byExt[normalizeExt(ext)]
	return rd, ok
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.Lookup(filepath.Ext(path))
	return ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads path with the reader registered for its extension.
// Missing readers fail with UnsupportedFormat and reader failures with
// ExtractionFailed; context errors pass through unchanged.
func (r *Registry) Extract(ctx context.Context, path string) (*Document, error) {
	ext := normalizeExt(filepath.Ext(path))
	rd, ok := r.Lookup(ext)
	if !ok {
		return nil, ierrors.UnsupportedFormat(path, ext)
	}

	doc, err := rd.Read(ctx, path)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case errors.Is(err, ierrors.ErrExtractionFailed), errors.Is(err, ierrors.ErrUnsupportedFormat):
			return nil, err
		default:
			return nil, ierrors.ExtractionFailed(path, err)
		}
	}
	if doc == nil {
		return nil, ierrors.ExtractionFailed(path, errors.New("reader returned no document"))
	}

	if doc.Format == "" {
		doc.Format = rd.Name()
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]any)
	}
	doc.Metadata["reader"] = rd.Name()
	doc.Metadata["extension"] = ext
	if r.normalize {
		doc.Text = Normalize(doc.Text)
	}
	return doc, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// readFile reads path after checking ctx.
func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// errNoText marks documents that parsed but contained no text.
var errNoText = errors.New("no text extracted")
