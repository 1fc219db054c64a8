package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a small general-purpose embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	ollamaPoolSize = 4
)

// OllamaConfig configures OllamaEmbedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions of 0 is detected by embedding a probe string.
	Dimensions int

	BatchSize int
	Timeout   time.Duration

	// RequestsPerSecond paces requests; 0 is unlimited.
	RequestsPerSecond float64

	Retry ierrors.RetryConfig

	// SkipProbe skips the startup request; Dimensions must then be set.
	SkipProbe bool

	// HTTPClient overrides the default pooled client.
	HTTPClient *http.Client
}

// DefaultOllamaConfig returns the local-server defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:      DefaultOllamaHost,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		Retry:     ierrors.DefaultRetryConfig(),
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// statusError is a non-2xx reply from the server.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.code, e.body)
}

// OllamaEmbedder calls the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	client  *http.Client
	cfg     OllamaConfig
	dims    int
	limiter *rate.Limiter
	breaker *ierrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates the embedder and, unless SkipProbe is set,
// embeds a probe string to verify the server and learn the dimensions.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	cfg.BatchSize = min(cfg.BatchSize, MaxBatchSize)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = retryableOllamaError
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			MaxIdleConns:        ollamaPoolSize,
			MaxIdleConnsPerHost: ollamaPoolSize,
			IdleConnTimeout:     10 * time.Second,
		}}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	e := &OllamaEmbedder{
		client:  client,
		cfg:     cfg,
		dims:    cfg.Dimensions,
		limiter: rate.NewLimiter(limit, 1),
		breaker: ierrors.NewCircuitBreaker("ollama"),
	}

	if cfg.SkipProbe {
		if e.dims <= 0 {
			return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "ollama dimensions required when probe is skipped", nil)
		}
		return e, nil
	}

	vecs, err := e.request(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeEmbedderUnavailable,
			fmt.Sprintf("ollama model %q at %s", cfg.Model, cfg.Host), err).
			WithSuggestion("Start Ollama and run: ollama pull " + cfg.Model)
	}
	got := len(vecs[0])
	if e.dims > 0 && got != e.dims {
		return nil, ierrors.DimensionMismatch(e.dims, got)
	}
	e.dims = got

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dims))
	return e, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in batches of BatchSize. Blank texts map to zero
// vectors without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	out := make([][]float32, len(texts))
	var idx []int
	var pending []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, e.dims)
			continue
		}
		idx = append(idx, i)
		pending = append(pending, t)
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(pending))
		vecs, err := e.request(ctx, pending[start:end])
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			if len(v) != e.dims {
				return nil, ierrors.DimensionMismatch(e.dims, len(v))
			}
			out[idx[start+j]] = v
		}
	}
	return out, nil
}

// request performs one rate-limited, retried, breaker-guarded call.
func (e *OllamaEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := ierrors.CircuitExecute(e.breaker, func() ([][]float32, error) {
		return ierrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return e.doEmbed(ctx, texts)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ierrors.New(ierrors.ErrCodeEmbeddingFailed, "ollama embed", err)
	}
	if len(vecs) != len(texts) {
		return nil, ierrors.New(ierrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(vecs), len(texts)), nil)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	var res ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	vecs := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		vecs[i] = normalizeVector(toFloat32(emb))
	}
	return vecs, nil
}

// retryableOllamaError retries transport failures, timeouts, 429 and 5xx.
func retryableOllamaError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if ierrors.IsRetryable(err) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Available reports whether the server lists the configured model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := strings.ToLower(e.cfg.Model)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.TrimSuffix(name, ":latest") == want {
			return true
		}
	}
	return false
}

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
