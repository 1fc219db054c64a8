package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/registry"
)

// DefaultHashDimensions is the vector length of HashEmbedder.
const DefaultHashDimensions = 256

// Feature weights. Stemmed terms carry meaning; trigrams give partial
// credit for morphology and typos.
const (
	termWeight    = 1.0
	trigramWeight = 0.4
)

// HashEmbedder produces deterministic vectors without a model. Text is
// analyzed with the bleve English analyzer (tokenize, lowercase, stop
// words, stem) and each term plus each character trigram is hashed into
// a signed bucket. It runs offline and is the default provider.
type HashEmbedder struct {
	dims     int
	analyzer analysis.Analyzer

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder with dims buckets (0 selects
// DefaultHashDimensions).
func NewHashEmbedder(dims int) (*HashEmbedder, error) {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	analyzer, err := registry.NewCache().AnalyzerNamed(en.AnalyzerName)
	if err != nil {
		return nil, fmt.Errorf("load %s analyzer: %w", en.AnalyzerName, err)
	}
	return &HashEmbedder{dims: dims, analyzer: analyzer}, nil
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) check(ctx context.Context) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dims)

	for _, tok := range e.analyzer.Analyze([]byte(text)) {
		e.add(v, "t:"+string(tok.Term), termWeight)
	}

	compact := compactLower(text)
	runes := []rune(compact)
	for i := 0; i+3 <= len(runes); i++ {
		e.add(v, "g:"+string(runes[i:i+3]), trigramWeight)
	}

	return normalizeVector(v)
}

// add hashes feature into a bucket; one hash bit picks the sign so that
// collisions tend to cancel instead of accumulate.
func (e *HashEmbedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// compactLower keeps lowercase letters and digits, separating words with
// a single space.
func compactLower(text string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) ModelName() string { return fmt.Sprintf("hash-en-%d", e.dims) }

func (e *HashEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *HashEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
