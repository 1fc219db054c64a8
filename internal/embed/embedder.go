// Package embed turns chunk and query text into fixed-length vectors.
//
// Three providers are available: a deterministic local hash embedder, a
// local Ollama server and the Gemini API. CachedEmbedder wraps any of them
// with an LRU cache, and NewFromConfig builds the configured stack.
package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per remote request.
	DefaultBatchSize = 32

	// MaxBatchSize bounds a single remote request.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single remote request.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheSize is the LRU size; 1000 vectors of 768 floats is ~3MB.
	DefaultCacheSize = 1000
)

// ErrClosed is returned by embedders after Close.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts, returning vectors in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length.
	Dimensions() int

	// ModelName identifies the model; vectors from different models are
	// not comparable.
	ModelName() string

	// Available reports whether the embedder can serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector scales v to unit length in place. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / mag)
	}
	return v
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
