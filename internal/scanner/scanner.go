package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// Walker abstracts the directory walk so tests can substitute it.
type Walker interface {
	Walk(root string, options *godirwalk.Options) error
}

type dirWalker struct{}

func (dirWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Scanner discovers indexable files under a fixed set of roots.
type Scanner struct {
	roots       []string
	exclude     *patternSet
	skipHidden  bool
	maxFileSize int64
	extensions  map[string]bool
	supports    func(path string) bool
	walker      Walker
}

// New creates a Scanner. Roots are made absolute; exclude patterns are compiled.
func New(opts Options) (*Scanner, error) {
	exclude, err := compilePatterns(opts.Exclude)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, err.Error(), err)
	}

	s := &Scanner{
		exclude:     exclude,
		skipHidden:  opts.SkipHidden,
		maxFileSize: opts.MaxFileSize,
		supports:    opts.Supports,
		walker:      dirWalker{},
	}
	if s.maxFileSize <= 0 {
		s.maxFileSize = DefaultMaxFileSize
	}
	if len(opts.Extensions) > 0 {
		s.extensions = make(map[string]bool, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.extensions[ext] = true
		}
	}

	seen := make(map[string]bool)
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, fmt.Sprintf("root %q", root), err)
		}
		abs = filepath.Clean(abs)
		if !seen[abs] {
			seen[abs] = true
			s.roots = append(s.roots, abs)
		}
	}
	sort.Strings(s.roots)
	return s, nil
}

// Roots returns the absolute, de-duplicated roots.
func (s *Scanner) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)
	return out
}

// Discover walks every root and returns the indexable files sorted by path.
// A missing root is an error: the caller must not mistake an unmounted
// directory for a directory whose files were all deleted.
func (s *Scanner) Discover(ctx context.Context) (*Result, error) {
	res := &Result{Skipped: make(map[SkipReason]int)}
	seen := make(map[string]bool)

	for _, root := range s.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeFileNotFound, "watched root "+root, err).
				WithSuggestion("Check that the directory exists or remove it from paths.roots")
		}
		if !info.IsDir() {
			return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "watched root is not a directory: "+root, nil)
		}

		err = s.walker.Walk(root, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if path == root {
					return nil
				}
				fi, reason, err := s.classify(root, path, de.IsDir(), de.IsSymlink())
				if err != nil {
					return nil
				}
				if reason != "" {
					res.Skipped[reason]++
					if de.IsDir() {
						return godirwalk.SkipThis
					}
					return nil
				}
				if fi != nil && !seen[fi.Path] {
					seen[fi.Path] = true
					res.Files = append(res.Files, *fi)
				}
				return nil
			},
			ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
				slog.Debug("scan_entry_error", slog.String("path", path), slog.String("error", err.Error()))
				return godirwalk.SkipNode
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })

	slog.Debug("discovery_complete",
		slog.Int("roots", len(s.roots)),
		slog.Int("files", len(res.Files)),
		slog.Int("skipped", res.SkippedTotal()))
	return res, nil
}

// Check applies the skip rules to a single path, as reported by a file
// watcher. It returns the FileInfo of an indexable file, or the reason the
// path is skipped. Paths outside every root are SkipExcluded.
func (s *Scanner) Check(path string) (*FileInfo, SkipReason, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	root := s.rootOf(abs)
	if root == "" {
		return nil, SkipExcluded, nil
	}

	// Ancestors are checked too; a watcher can report a file deep inside a skipped tree.
	rel, _ := filepath.Rel(root, abs)
	parts := strings.Split(rel, string(filepath.Separator))
	dir := root
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		if _, reason, _ := s.classify(root, dir, true, false); reason != "" {
			return nil, reason, nil
		}
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return nil, "", err
	}
	isSymlink := info.Mode()&os.ModeSymlink != 0
	return s.classify(root, abs, info.IsDir(), isSymlink)
}

// SkipDir reports whether the directory at path lies outside every root or
// would be pruned by discovery. Watchers use it to avoid registering
// watches on skipped trees.
func (s *Scanner) SkipDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	root := s.rootOf(abs)
	if root == "" {
		return true
	}
	if abs == root {
		return false
	}
	_, reason, _ := s.classify(root, abs, true, false)
	return reason != ""
}

func (s *Scanner) rootOf(abs string) string {
	best := ""
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best
}

// classify returns a FileInfo for an indexable file, a skip reason, or
// neither for a directory that should be descended into.
func (s *Scanner) classify(root, path string, isDir, isSymlink bool) (*FileInfo, SkipReason, error) {
	name := filepath.Base(path)
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, "", err
	}
	rel = filepath.ToSlash(rel)

	if isSymlink {
		return nil, SkipSymlink, nil
	}
	if s.skipHidden && strings.HasPrefix(name, ".") {
		return nil, SkipHidden, nil
	}
	if isDir && (skipDirs[name] || strings.HasSuffix(name, ".egg-info")) {
		return nil, SkipDirectory, nil
	}
	if s.exclude.Match(rel, isDir) {
		return nil, SkipExcluded, nil
	}
	if isDir {
		return nil, "", nil
	}

	ext := strings.ToLower(filepath.Ext(name))
	if s.extensions != nil && !s.extensions[ext] {
		return nil, SkipUnsupported, nil
	}
	if s.supports != nil && !s.supports(path) {
		return nil, SkipUnsupported, nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		return nil, "", err
	}
	if !info.Mode().IsRegular() {
		return nil, SkipUnsupported, nil
	}
	if info.Size() == 0 {
		return nil, SkipEmpty, nil
	}
	if info.Size() > s.maxFileSize {
		return nil, SkipTooLarge, nil
	}

	return &FileInfo{
		Path:    path,
		Root:    root,
		RelPath: rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Ext:     ext,
	}, "", nil
}
