package embed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rajasaid/InsightOS/internal/config"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// Provider names accepted in embeddings.provider.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// ValidProviders lists the accepted provider names.
func ValidProviders() []string {
	return []string{ProviderHash, ProviderOllama, ProviderGemini}
}

// NewFromConfig builds the configured provider wrapped in a
// CachedEmbedder. A cache_size below zero disables the cache.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderHash, "":
		inner, err = NewHashEmbedder(cfg.Dimensions)
	case ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			oc.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		oc.Dimensions = cfg.Dimensions
		oc.BatchSize = cfg.BatchSize
		oc.RequestsPerSecond = cfg.RequestsPerSecond
		inner, err = NewOllamaEmbedder(ctx, oc)
	case ProviderGemini:
		inner, err = NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:            os.Getenv(cfg.GeminiAPIKeyEnv),
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	default:
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil).
			WithSuggestion("Use one of: " + strings.Join(ValidProviders(), ", "))
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

// Info describes an embedder for status output.
type Info struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}

// Describe returns Info for e.
func Describe(ctx context.Context, e Embedder) Info {
	return Info{
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Available:  e.Available(ctx),
	}
}
