package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// fakeOllama serves /api/embed with vectors of dims floats whose first
// element encodes the input length.
type fakeOllama struct {
	dims     int
	failures atomic.Int32 // respond 503 this many times first
	status   int          // non-zero forces this status
	requests atomic.Int32
	inputs   atomic.Int32
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if f.failures.Load() > 0 {
			f.failures.Add(-1)
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		if f.status != 0 {
			http.Error(w, "bad request", f.status)
			return
		}

		var req ollamaEmbedRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}
		f.inputs.Add(int32(len(inputs)))

		res := ollamaEmbedResponse{Model: req.Model}
		for _, in := range inputs {
			vec := make([]float64, f.dims)
			vec[0] = float64(len(in))
			vec[1] = 1
			res.Embeddings = append(res.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
	})
	return mux
}

func fastRetry() ierrors.RetryConfig {
	return ierrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// TS04: The probe detects dimensions
func TestOllamaEmbedder_ProbeDetectsDimensions(t *testing.T) {
	fake := &fakeOllama{dims: 8}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL + "/", Retry: fastRetry()})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, 8, e.Dimensions())
	assert.Equal(t, DefaultOllamaModel, e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_ProbeDimensionMismatch(t *testing.T) {
	fake := &fakeOllama{dims: 8}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Dimensions: 16, Retry: fastRetry()})

	assert.ErrorIs(t, err, ierrors.ErrDimensionMismatch)
}

// TS05: Batches are split and blank inputs skip the server
func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	fake := &fakeOllama{dims: 4}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 4, BatchSize: 2, SkipProbe: true, Retry: fastRetry(),
	})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "  ", "bbb", "cc", "dddd"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	assert.Equal(t, []float32{0, 0, 0, 0}, vecs[1])
	assert.EqualValues(t, 2, fake.requests.Load(), "four texts in batches of two")
	assert.EqualValues(t, 4, fake.inputs.Load())
	// Vectors are normalized and keep input order.
	assert.InDelta(t, 1.0, norm(vecs[2]), 1e-5)
	assert.Greater(t, vecs[4][0], vecs[3][0])
	assert.Greater(t, vecs[2][0], vecs[0][0])
}

// TS06: Transient failures are retried, client errors are not
func TestOllamaEmbedder_Retry(t *testing.T) {
	t.Run("503 then success", func(t *testing.T) {
		fake := &fakeOllama{dims: 4}
		fake.failures.Store(2)
		srv := httptest.NewServer(fake.handler(t))
		defer srv.Close()

		e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
			Host: srv.URL, Dimensions: 4, SkipProbe: true, Retry: fastRetry(),
		})
		require.NoError(t, err)

		_, err = e.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.EqualValues(t, 3, fake.requests.Load())
	})

	t.Run("400 fails immediately", func(t *testing.T) {
		fake := &fakeOllama{dims: 4, status: http.StatusBadRequest}
		srv := httptest.NewServer(fake.handler(t))
		defer srv.Close()

		e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
			Host: srv.URL, Dimensions: 4, SkipProbe: true, Retry: fastRetry(),
		})
		require.NoError(t, err)

		_, err = e.Embed(context.Background(), "hello")
		require.Error(t, err)
		assert.Equal(t, ierrors.ErrCodeEmbeddingFailed, ierrors.GetCode(err))
		assert.EqualValues(t, 1, fake.requests.Load())
	})
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: url, Retry: fastRetry()})

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeEmbedderUnavailable, ierrors.GetCode(err))
}

func TestOllamaEmbedder_SkipProbeNeedsDimensions(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{SkipProbe: true})

	assert.Error(t, err)
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Dimensions: 4, SkipProbe: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, e.Available(context.Background()))
}
