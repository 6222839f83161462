package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DreamCats/ctxportal/internal/errs"
)

// APIKeyEnv is consulted when embedding.api_key is absent from the file.
const APIKeyEnv = "OPENAI_API_TOKEN"

// Config holds the application configuration
type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Database   DatabaseConfig   `yaml:"database"`
	Search     SearchConfig     `yaml:"search,omitempty"`
	MemoryBank MemoryBankConfig `yaml:"memory_bank,omitempty"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "tfidf" | "local" | "openai"

	Model    string `yaml:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`

	// APIKeyFile is the literal api_key from YAML. It is folded into the
	// resolved key by Load and never written back.
	APIKeyFile string `yaml:"api_key,omitempty"`

	Dimensions     int           `yaml:"dimensions,omitempty"` // 0 = detect from the model
	BatchSize      int           `yaml:"batch_size,omitempty"`
	MaxFeatures    int           `yaml:"max_features,omitempty"` // tfidf vocabulary cap
	MaxRetries     int           `yaml:"max_retries"` // 0 disables retries
	RetryBaseDelay time.Duration `yaml:"retry_base_delay,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`

	// CachePath enables the bbolt encode cache for local/openai providers.
	CachePath string `yaml:"cache_path,omitempty"`

	apiKey string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Path to SQLite database file
	// If empty, uses <workspace>/.ctxportal/context.db
	Path string `yaml:"path,omitempty"`
}

// SearchConfig holds search defaults
type SearchConfig struct {
	DefaultTopK   int     `yaml:"default_top_k,omitempty"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

// MemoryBankConfig points at the markdown mirror used by import/export
type MemoryBankConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// LogConfig controls the log file location and verbosity
type LogConfig struct {
	Dir   string `yaml:"dir,omitempty"`
	Level string `yaml:"level,omitempty"`
}

// APIKey returns the credential resolved at load time.
func (e *EmbeddingConfig) APIKey() string {
	return e.apiKey
}

// SetAPIKey overrides the resolved credential. Used by tests and by callers
// that build a config in code.
func (e *EmbeddingConfig) SetAPIKey(key string) {
	e.apiKey = key
}

// DefaultPath returns ~/.ctxportal/config/ctxportal.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ctxportal", "config", "ctxportal.yaml"), nil
}

// Load loads configuration from the default config file
// Default location: ~/.ctxportal/config/ctxportal.yaml
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromFile(configPath)
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			defaultPath, _ := DefaultPath()
			return nil, &ConfigNotFoundError{
				RequestedPath: path,
				DefaultPath:   defaultPath,
			}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies defaults, resolves the credential once and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return finish(cfg)
}

// Default returns the zero-file configuration: a tfidf provider and the
// default paths.
func Default() (*Config, error) {
	return finish(newConfig())
}

// newConfig seeds the fields where 0 is a meaningful setting. The YAML is
// decoded on top, so only keys present in the file replace them.
func newConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{MaxRetries: 3},
		Search:    SearchConfig{MinSimilarity: 0.1},
	}
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	cfg.resolveCredential()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ConfigNotFoundError is returned when config file is not found
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s\n\nDefault location: %s\n\nYou can:\n"+
		"  1. Create the config file at the default location\n"+
		"  2. Specify a custom path with --config\n"+
		"  3. Run 'ctxportal init' to write a template",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks if error is config not found
func IsConfigNotFound(err error) bool {
	_, ok := err.(*ConfigNotFoundError)
	return ok
}

// expandPath expands ~ and $HOME to the user's home directory
// Supports both:
//
//	~/.ctxportal/data/context.db
//	$HOME/.ctxportal/data/context.db
func expandPath(path string) string {
	var rest string
	switch {
	case path == "~" || path == "$HOME":
	case strings.HasPrefix(path, "~/"):
		rest = path[2:]
	case strings.HasPrefix(path, "$HOME/"):
		rest = path[6:]
	default:
		return path
	}

	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		var err error
		homeDir, err = os.UserHomeDir()
		if err != nil {
			// If we can't get home dir, return path as-is
			return path
		}
	}
	if rest == "" {
		return homeDir
	}
	return filepath.Join(homeDir, rest)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	e := &c.Embedding
	if e.Provider == "" {
		e.Provider = "tfidf"
	}
	e.Provider = strings.ToLower(strings.TrimSpace(e.Provider))

	switch e.Provider {
	case "openai":
		if e.Model == "" {
			e.Model = "text-embedding-3-small"
		}
		if e.Endpoint == "" {
			e.Endpoint = "https://api.openai.com/v1"
		}
	case "local":
		if e.Model == "" {
			e.Model = "nomic-embed-text"
		}
		if e.Endpoint == "" {
			e.Endpoint = "http://localhost:11434"
		}
	}

	if e.BatchSize == 0 {
		e.BatchSize = 64
	}
	if e.MaxFeatures == 0 {
		e.MaxFeatures = 5000
	}
	if e.RetryBaseDelay == 0 {
		e.RetryBaseDelay = 500 * time.Millisecond
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	if e.CachePath != "" {
		e.CachePath = expandPath(e.CachePath)
	}

	if c.Database.Path != "" {
		c.Database.Path = expandPath(c.Database.Path)
	}

	if c.Search.DefaultTopK == 0 {
		c.Search.DefaultTopK = 5
	}

	if c.MemoryBank.Dir == "" {
		c.MemoryBank.Dir = "memory-bank"
	}

	if c.Log.Dir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			c.Log.Dir = filepath.Join(homeDir, ".ctxportal", "logs")
		}
	} else {
		c.Log.Dir = expandPath(c.Log.Dir)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// resolveCredential reads the API key exactly once: from the file value,
// falling back to the environment.
func (c *Config) resolveCredential() {
	key := strings.TrimSpace(c.Embedding.APIKeyFile)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
	c.Embedding.apiKey = key
	c.Embedding.APIKeyFile = ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "tfidf":
		if c.Embedding.MaxFeatures < 0 {
			return &errs.ConfigurationError{Field: "embedding.max_features", Reason: "must be positive"}
		}
	case "local":
		if c.Embedding.Endpoint == "" {
			return &errs.ConfigurationError{Field: "embedding.endpoint", Reason: "local provider requires an endpoint"}
		}
	case "openai":
		// The credential itself is checked when the provider is built so
		// that commands which never embed can still run.
	default:
		return &errs.ConfigurationError{Field: "embedding.provider", Reason: fmt.Sprintf("unsupported embedding provider: %s", c.Embedding.Provider)}
	}

	if c.Embedding.Dimensions < 0 {
		return &errs.ConfigurationError{Field: "embedding.dimensions", Reason: "must not be negative"}
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 2048 {
		return &errs.ConfigurationError{Field: "embedding.batch_size", Reason: fmt.Sprintf("must be between 1 and 2048, got: %d", c.Embedding.BatchSize)}
	}
	if c.Embedding.MaxRetries < 0 {
		return &errs.ConfigurationError{Field: "embedding.max_retries", Reason: "must not be negative"}
	}
	if c.Search.DefaultTopK < 0 {
		return &errs.ConfigurationError{Field: "search.default_top_k", Reason: "must not be negative"}
	}
	if c.Search.MinSimilarity < -1 || c.Search.MinSimilarity > 1 {
		return &errs.ConfigurationError{Field: "search.min_similarity", Reason: "must be within [-1, 1]"}
	}

	return nil
}

// ResolveDatabasePath returns the configured database path, or the
// workspace default.
func (c *Config) ResolveDatabasePath(workspace string) string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(workspace, ".ctxportal", "context.db")
}

// ResolveMemoryBankDir returns the memory-bank dir, relative paths anchored
// at workspace.
func (c *Config) ResolveMemoryBankDir(workspace string) string {
	dir := expandPath(c.MemoryBank.Dir)
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspace, dir)
}

// SaveToFile saves the configuration to a specific file. The resolved API
// key is not persisted.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

const defaultConfigTemplate = `# ctxportal configuration
#
# Default location: $HOME/.ctxportal/config/ctxportal.yaml

embedding:
  # Provider: "tfidf" (no network), "local" (Ollama) or "openai"
  provider: tfidf
  max_features: 5000

  # Local neural model served by Ollama
  # provider: local
  # endpoint: http://localhost:11434
  # model: nomic-embed-text

  # OpenAI (api_key may be omitted and read from OPENAI_API_TOKEN)
  # provider: openai
  # model: text-embedding-3-small
  # api_key: your-openai-api-key
  # max_retries: 3
  # cache_path: ~/.ctxportal/cache/embeddings.bolt

# database:
#   path: ~/.ctxportal/data/context.db

search:
  default_top_k: 5
  min_similarity: 0.1

memory_bank:
  dir: memory-bank
`

// WriteDefaultTemplate creates a default configuration file if it does not exist.
// It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config template: %w", err)
	}

	return true, nil
}
