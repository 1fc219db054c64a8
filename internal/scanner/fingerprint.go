package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// Fingerprinted pairs a file with its fingerprint or the error computing it.
type Fingerprinted struct {
	File        FileInfo
	Fingerprint string
	Err         error
}

// Fingerprint returns "<sha256 of content>:<mtime in unix nanoseconds>".
// Content and modification time both take part, so a touched file with
// identical bytes is re-indexed and so is an edit that preserves mtime.
func Fingerprint(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10), nil
}

// FingerprintAll fingerprints files with at most workers concurrent reads
// (0 = NumCPU). Per-file errors are reported in the result; only
// cancellation fails the call. Output order matches input order.
func FingerprintAll(ctx context.Context, files []FileInfo, workers int) ([]Fingerprinted, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]Fingerprinted, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp, err := Fingerprint(gctx, files[i].Path)
			out[i] = Fingerprinted{File: files[i], Fingerprint: fp, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
