// Package scanner discovers indexable documents under the watched roots.
// It applies the skip rules (hidden entries, build/cache directories,
// exclude patterns, size cap, empty files, symlinks, unsupported formats)
// and fingerprints files for change detection.
package scanner

import (
	"time"
)

// DefaultMaxFileSize is the default maximum file size (50MB).
const DefaultMaxFileSize = 50 * 1024 * 1024

// SkipReason explains why an entry was not reported.
type SkipReason string

const (
	SkipHidden      SkipReason = "hidden"
	SkipDirectory   SkipReason = "skip_dir"
	SkipExcluded    SkipReason = "excluded"
	SkipSymlink     SkipReason = "symlink"
	SkipEmpty       SkipReason = "empty"
	SkipTooLarge    SkipReason = "too_large"
	SkipUnsupported SkipReason = "unsupported"
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	"node_modules":  true,
	".git":          true,
	".svn":          true,
	".hg":           true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	"env":           true,
	".tox":          true,
	"build":         true,
	"dist":          true,
	".pytest_cache": true,
	".mypy_cache":   true,
}

// Options configures discovery.
type Options struct {
	// Roots are the watched directories. Each must exist.
	Roots []string

	// Exclude holds gitignore-style patterns matched against root-relative paths.
	Exclude []string

	// SkipHidden drops dot-files and dot-directories below a root.
	SkipHidden bool

	// MaxFileSize in bytes (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// Extensions restricts discovery to these extensions when non-empty.
	Extensions []string

	// Supports reports whether a reader exists for the path. Nil accepts all.
	Supports func(path string) bool
}

// FileInfo describes a discovered file.
type FileInfo struct {
	Path    string    // Absolute path, the Source Document id
	Root    string    // Watched root the file was found under
	RelPath string    // Slash-separated path relative to Root
	Size    int64     // Size in bytes
	ModTime time.Time // Last modification time
	Ext     string    // Lower-cased extension including the dot
}

// Result is the outcome of one discovery pass.
type Result struct {
	// Files sorted by Path.
	Files   []FileInfo
	Skipped map[SkipReason]int
}

// SkippedTotal returns the number of skipped entries across all reasons.
func (r *Result) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}
