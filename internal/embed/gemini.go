package embed

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

const (
	DefaultGeminiModel      = "gemini-embedding-001"
	DefaultGeminiDimensions = 768

	// geminiMaxBatch is the API limit on contents per EmbedContent call.
	geminiMaxBatch = 100

	geminiTaskType = "RETRIEVAL_DOCUMENT"
)

// GeminiConfig configures GeminiEmbedder.
type GeminiConfig struct {
	APIKey            string
	Model             string
	Dimensions        int
	BatchSize         int
	RequestsPerSecond float64
	Retry             ierrors.RetryConfig
}

// GeminiEmbedder calls the Gemini embedContent API through the genai SDK.
type GeminiEmbedder struct {
	client  *genai.Client
	cfg     GeminiConfig
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a Gemini API client. No request is made until
// the first Embed call.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ierrors.New(ierrors.ErrCodeEmbedderUnavailable, "gemini API key is not set", nil).
			WithSuggestion("Export the key in the variable named by embeddings.gemini_api_key_env")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultGeminiDimensions
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > geminiMaxBatch {
		cfg.BatchSize = min(DefaultBatchSize, geminiMaxBatch)
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = ierrors.DefaultRetryConfig()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeEmbedderUnavailable, "create gemini client", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &GeminiEmbedder{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := e.embedContents(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *GeminiEmbedder) embedContents(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	dims := int32(e.cfg.Dimensions)
	cfg := &genai.EmbedContentConfig{
		TaskType:             geminiTaskType,
		OutputDimensionality: &dims,
	}

	res, err := ierrors.RetryWithResult(ctx, e.cfg.Retry, func() (*genai.EmbedContentResponse, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return e.client.Models.EmbedContent(ctx, e.cfg.Model, contents, cfg)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ierrors.New(ierrors.ErrCodeEmbeddingFailed, "gemini embed", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, ierrors.New(ierrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("gemini returned an unexpected number of embeddings for %d inputs", len(texts)), nil)
	}

	vecs := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if len(emb.Values) != e.cfg.Dimensions {
			return nil, ierrors.DimensionMismatch(e.cfg.Dimensions, len(emb.Values))
		}
		vecs[i] = normalizeVector(append([]float32(nil), emb.Values...))
	}
	return vecs, nil
}

func (e *GeminiEmbedder) Dimensions() int { return e.cfg.Dimensions }

func (e *GeminiEmbedder) ModelName() string { return e.cfg.Model }

func (e *GeminiEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.client != nil
}

func (e *GeminiEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
