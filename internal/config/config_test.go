package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TS01: Defaults are valid
func TestNewConfig_DefaultsAreValid(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300, cfg.Chunking.Size)
	assert.Equal(t, 70, cfg.Chunking.Overlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.3, cfg.Retrieval.SimilarityThreshold, 1e-9)
	assert.Equal(t, 8000, cfg.Retrieval.MaxContextChars)
	assert.Equal(t, "hash", cfg.Embeddings.Provider)
	assert.Equal(t, 4, cfg.Indexing.Workers)
	assert.Equal(t, int64(50<<20), cfg.MaxFileSize())
}

// TS02: Precedence defaults < user < file < env < flags
func TestLoad_Precedence(t *testing.T) {
	xdg := isolate(t)

	// Given: a user config, an explicit file and env overrides
	writeFile(t, filepath.Join(xdg, "insightos", "config.yaml"), `
chunking:
  size: 400
retrieval:
  top_k: 7
indexing:
  workers: 2
`)
	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	writeFile(t, explicit, `
retrieval:
  top_k: 9
embeddings:
  provider: ollama
`)
	t.Setenv("INSIGHTOS_INDEXING_WORKERS", "6")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("top-k", 5, "")
	require.NoError(t, fs.Parse([]string{"--top-k=11"}))

	// When: loading
	cfg, err := Load(LoadOptions{ConfigFile: explicit, Flags: fs})
	require.NoError(t, err)

	// Then: each layer wins over the previous one
	assert.Equal(t, 400, cfg.Chunking.Size)            // user
	assert.Equal(t, 70, cfg.Chunking.Overlap)          // default kept
	assert.Equal(t, "ollama", cfg.Embeddings.Provider) // explicit file
	assert.Equal(t, 6, cfg.Indexing.Workers)           // env
	assert.Equal(t, 11, cfg.Retrieval.TopK)            // flag
}

func TestLoad_EnvFileAndNestedKeys(t *testing.T) {
	isolate(t)

	// Given: a dotenv file with nested keys
	envFile := filepath.Join(t.TempDir(), ".env")
	writeFile(t, envFile, "INSIGHTOS_PATHS_ROOTS=/tmp/a,/tmp/b\nINSIGHTOS_RETRIEVAL_MERGE_ADJACENT=false\nINSIGHTOS_EMBEDDINGS_GEMINI_API_KEY_ENV=MY_KEY\n")
	t.Cleanup(func() {
		os.Unsetenv("INSIGHTOS_PATHS_ROOTS")
		os.Unsetenv("INSIGHTOS_RETRIEVAL_MERGE_ADJACENT")
		os.Unsetenv("INSIGHTOS_EMBEDDINGS_GEMINI_API_KEY_ENV")
	})

	// When: loading
	cfg, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)

	// Then: the values are decoded into their sections
	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, cfg.Paths.Roots)
	assert.False(t, cfg.Retrieval.MergeAdjacent)
	assert.Equal(t, "MY_KEY", cfg.Embeddings.GeminiAPIKeyEnv)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeConfigNotFound, ierrors.GetCode(err))
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "chunking: [unclosed\n")

	_, err := Load(LoadOptions{ConfigFile: path})

	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
}

// TS03: Overlap >= size fails fast as InvalidChunkConfig
func TestValidate_ChunkConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap above size", 100, 150},
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Chunking.Size = tt.size
			cfg.Chunking.Overlap = tt.overlap

			err := cfg.Validate()
			assert.True(t, errors.Is(err, ierrors.ErrInvalidChunkConfig))
		})
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"top_k zero", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"top_k above 20", func(c *Config) { c.Retrieval.TopK = 21 }},
		{"threshold above 1", func(c *Config) { c.Retrieval.SimilarityThreshold = 1.5 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"zero workers", func(c *Config) { c.Indexing.Workers = 0 }},
		{"bad job timeout", func(c *Config) { c.Indexing.JobTimeout = "soon" }},
		{"negative debounce", func(c *Config) { c.Indexing.WatchDebounce = "-1s" }},
		{"bad schedule", func(c *Config) { c.Indexing.Schedule = "every tuesday" }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
		})
	}
}

func TestValidate_AcceptsCronSchedule(t *testing.T) {
	cfg := NewConfig()
	cfg.Indexing.Schedule = "*/15 * * * *"
	assert.NoError(t, cfg.Validate())
}

// TS04: Signature tracks only re-index settings
func TestSignature_ChangesWithIndexSettingsOnly(t *testing.T) {
	base := NewConfig()
	sig := base.Signature()

	other := NewConfig()
	other.Retrieval.TopK = 10
	other.Indexing.Workers = 8
	assert.Equal(t, sig, other.Signature())

	chunked := NewConfig()
	chunked.Chunking.Overlap = 60
	assert.NotEqual(t, sig, chunked.Signature())

	model := NewConfig()
	model.Embeddings.Model = "nomic-embed-text"
	assert.NotEqual(t, sig, model.Signature())
}

func TestDurations_ParseConfiguredValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Indexing.JobTimeout = "45s"
	cfg.Indexing.WatchDebounce = "250ms"

	assert.Equal(t, "45s", cfg.JobTimeoutDuration().String())
	assert.Equal(t, "250ms", cfg.WatchDebounceDuration().String())
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)

	// Given: a customized config written to disk
	cfg := NewConfig()
	cfg.Chunking.Size = 512
	cfg.Chunking.Overlap = 64
	cfg.Paths.Roots = []string{"/data/docs"}
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	// When: loading it back
	loaded, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	// Then: the values survive
	assert.Equal(t, 512, loaded.Chunking.Size)
	assert.Equal(t, 64, loaded.Chunking.Overlap)
	assert.Equal(t, []string{"/data/docs"}, loaded.Paths.Roots)
	assert.Equal(t, cfg.Signature(), loaded.Signature())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "docs"), expandHome("~/docs"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
}
