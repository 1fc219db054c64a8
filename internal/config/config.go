package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

// EnvPrefix is the prefix for environment overrides (INSIGHTOS_CHUNKING_SIZE, ...).
const EnvPrefix = "INSIGHTOS"

// Config represents the complete InsightOS configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version" ignored:"true"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig selects the watched directories and what to skip in them.
type PathsConfig struct {
	Roots   []string `yaml:"roots" json:"roots"`
	Exclude []string `yaml:"exclude" json:"exclude"`
	// DataDir holds the index database, lock file and logs.
	DataDir       string   `yaml:"data_dir" json:"data_dir" split_words:"true"`
	SkipHidden    bool     `yaml:"skip_hidden" json:"skip_hidden" split_words:"true"`
	MaxFileSizeMB int      `yaml:"max_file_size_mb" json:"max_file_size_mb" split_words:"true"`
	Extensions    []string `yaml:"extensions" json:"extensions"`
}

// ChunkingConfig configures the sliding-window chunker.
// Changing any field requires a re-index.
type ChunkingConfig struct {
	Size      int  `yaml:"size" json:"size"`
	Overlap   int  `yaml:"overlap" json:"overlap"`
	Normalize bool `yaml:"normalize" json:"normalize"`
}

// RetrievalConfig configures query-time ranking and context assembly.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k" json:"top_k" split_words:"true"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold" split_words:"true"`
	MaxContextChars     int     `yaml:"max_context_chars" json:"max_context_chars" split_words:"true"`
	MergeAdjacent       bool    `yaml:"merge_adjacent" json:"merge_adjacent" split_words:"true"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of hash, ollama, gemini.
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Dimensions of 0 means the provider default.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	BatchSize  int `yaml:"batch_size" json:"batch_size" split_words:"true"`
	CacheSize  int `yaml:"cache_size" json:"cache_size" split_words:"true"`

	OllamaHost string `yaml:"ollama_host" json:"ollama_host" split_words:"true"`
	// RequestsPerSecond paces remote embedders; 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" split_words:"true"`
	// GeminiAPIKeyEnv names the environment variable holding the Gemini key.
	GeminiAPIKeyEnv string `yaml:"gemini_api_key_env" json:"gemini_api_key_env" split_words:"true"`
}

// IndexingConfig configures the index manager and its triggers.
type IndexingConfig struct {
	Workers       int    `yaml:"workers" json:"workers"`
	JobTimeout    string `yaml:"job_timeout" json:"job_timeout" split_words:"true"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce" split_words:"true"`
	// Schedule is a cron expression for periodic rescans; empty disables it.
	Schedule string `yaml:"schedule" json:"schedule"`
	// ExactSearchLimit is the collection size up to which search is brute force.
	ExactSearchLimit int `yaml:"exact_search_limit" json:"exact_search_limit" split_words:"true"`
}

// ServerConfig configures logging and the optional metrics endpoint.
type ServerConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level" split_words:"true"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" split_words:"true"`
}

// DefaultExcludePatterns are applied on top of the built-in skip-directory list.
var DefaultExcludePatterns = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/go.sum",
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Roots:         []string{},
			Exclude:       append([]string(nil), DefaultExcludePatterns...),
			DataDir:       defaultDataDir(),
			SkipHidden:    true,
			MaxFileSizeMB: 50,
		},
		Chunking: ChunkingConfig{
			Size:      300,
			Overlap:   70,
			Normalize: true,
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			SimilarityThreshold: 0.3,
			MaxContextChars:     8000,
			MergeAdjacent:       true,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "hash",
			BatchSize:       32,
			CacheSize:       1000,
			OllamaHost:      "http://localhost:11434",
			GeminiAPIKeyEnv: "GEMINI_API_KEY",
		},
		Indexing: IndexingConfig{
			Workers:          4,
			JobTimeout:       "2m",
			WatchDebounce:    "500ms",
			ExactSearchLimit: 20000,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".insightos")
	}
	return filepath.Join(home, ".insightos")
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/insightos/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/insightos/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "insightos", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "insightos", "config.yaml")
	}
	return filepath.Join(home, ".config", "insightos", "config.yaml")
}

// LoadOptions selects optional inputs for Load.
type LoadOptions struct {
	// ConfigFile is an explicit config file; it must exist when set.
	ConfigFile string
	// EnvFile is a dotenv file; a missing file is ignored.
	EnvFile string
	// Flags are applied last; only flags marked Changed override.
	Flags *pflag.FlagSet
}

// Load builds the configuration in order of increasing precedence:
//  1. Defaults
//  2. User config (~/.config/insightos/config.yaml)
//  3. Explicit config file (--config)
//  4. .env file, then INSIGHTOS_* environment variables
//  5. Changed command-line flags
func Load(opts LoadOptions) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if opts.ConfigFile != "" {
		if !fileExists(opts.ConfigFile) {
			return nil, ierrors.New(ierrors.ErrCodeConfigNotFound,
				"config file not found: "+opts.ConfigFile, nil)
		}
		if err := cfg.loadYAML(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	if opts.EnvFile != "" && fileExists(opts.EnvFile) {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, "env override", err)
	}

	if opts.Flags != nil {
		cfg.ApplyFlags(opts.Flags)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays the keys present in path onto c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// ApplyFlags copies changed flags onto the config. Flag names match the
// CLI: --workers, --top-k, --threshold, --max-chars, --provider, --model,
// --data-dir, --log-level.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) {
	setStr := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst, _ = fs.GetString(name)
		}
	}
	setInt := func(name string, dst *int) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst, _ = fs.GetInt(name)
		}
	}
	setFloat := func(name string, dst *float64) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst, _ = fs.GetFloat64(name)
		}
	}

	setInt("workers", &c.Indexing.Workers)
	setInt("top-k", &c.Retrieval.TopK)
	setFloat("threshold", &c.Retrieval.SimilarityThreshold)
	setInt("max-chars", &c.Retrieval.MaxContextChars)
	setStr("provider", &c.Embeddings.Provider)
	setStr("model", &c.Embeddings.Model)
	setStr("data-dir", &c.Paths.DataDir)
	setStr("log-level", &c.Server.LogLevel)
}

func (c *Config) expandPaths() {
	c.Paths.DataDir = expandHome(c.Paths.DataDir)
	for i, r := range c.Paths.Roots {
		c.Paths.Roots[i] = expandHome(r)
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

var (
	validProviders = map[string]bool{"hash": true, "ollama": true, "gemini": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate validates the configuration. An unusable chunk size/overlap pair
// is reported as InvalidChunkConfig; everything else as ConfigInvalid.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return ierrors.InvalidChunkConfig(c.Chunking.Size, c.Chunking.Overlap)
	}

	invalid := func(format string, args ...any) error {
		return ierrors.New(ierrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 20 {
		return invalid("retrieval.top_k must be between 1 and 20, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return invalid("retrieval.similarity_threshold must be between 0 and 1, got %g", c.Retrieval.SimilarityThreshold)
	}
	if c.Retrieval.MaxContextChars <= 0 {
		return invalid("retrieval.max_context_chars must be positive, got %d", c.Retrieval.MaxContextChars)
	}

	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return invalid("embeddings.provider must be 'hash', 'ollama' or 'gemini', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return invalid("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return invalid("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return invalid("embeddings.requests_per_second must be non-negative, got %g", c.Embeddings.RequestsPerSecond)
	}

	if c.Indexing.Workers <= 0 {
		return invalid("indexing.workers must be positive, got %d", c.Indexing.Workers)
	}
	if _, err := parsePositiveDuration(c.Indexing.JobTimeout); err != nil {
		return invalid("indexing.job_timeout: %v", err)
	}
	if _, err := parsePositiveDuration(c.Indexing.WatchDebounce); err != nil {
		return invalid("indexing.watch_debounce: %v", err)
	}
	if c.Indexing.Schedule != "" {
		if _, err := cronexpr.Parse(c.Indexing.Schedule); err != nil {
			return invalid("indexing.schedule: %v", err)
		}
	}
	if c.Paths.MaxFileSizeMB <= 0 {
		return invalid("paths.max_file_size_mb must be positive, got %d", c.Paths.MaxFileSizeMB)
	}

	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return invalid("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}
	return nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

// JobTimeoutDuration returns the per-job wall-clock budget.
func (c *Config) JobTimeoutDuration() time.Duration {
	d, err := parsePositiveDuration(c.Indexing.JobTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// WatchDebounceDuration returns the watcher debounce window.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := parsePositiveDuration(c.Indexing.WatchDebounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// MaxFileSize returns the per-file size cap in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Paths.MaxFileSizeMB) << 20
}

// IndexPath returns the SQLite index directory under DataDir.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.DataDir, "index")
}

// LogPath returns the default log file under DataDir.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.DataDir, "logs", "insightos.log")
}

// Signature identifies the settings whose change invalidates stored chunks
// and vectors. It is persisted alongside the index.
func (c *Config) Signature() string {
	s := fmt.Sprintf("chunk=%d/%d normalize=%t provider=%s model=%s dims=%d",
		c.Chunking.Size, c.Chunking.Overlap, c.Chunking.Normalize,
		strings.ToLower(c.Embeddings.Provider), c.Embeddings.Model, c.Embeddings.Dimensions)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// WriteYAML writes the configuration to a YAML file, creating parent dirs.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
