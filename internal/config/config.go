// Package config loads the clinical retrieval core's configuration
// from layered sources: built-in defaults, a user/global config file,
// a project config file (.chwrag.yaml), and CHWRAG_* environment
// variables, in increasing order of precedence. Grounded on the
// teacher's internal/config layered-precedence design for its own
// search-weight tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the clinical retrieval and
// synthesis core.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embedding  EmbeddingConfig  `yaml:"embedding" json:"embedding"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// StoreConfig locates and tunes the corpus store file.
type StoreConfig struct {
	// Path is the corpus store file (single embedded SQLite file).
	Path string `yaml:"path" json:"path"`
	// SQLiteCacheMB is the SQLite page cache size in MB.
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// SearchConfig tunes the retriever. Per spec.md §4.5 the RRF constant
// is contractual, not user-tunable, and is not exposed here.
// HybridLaneWidth is loaded and merged like the other fields, but the
// retriever uses its own fixed lane width of 15 and does not read it.
type SearchConfig struct {
	DefaultTopK       int `yaml:"default_top_k" json:"default_top_k"`
	MinContentChars   int `yaml:"min_content_chars" json:"min_content_chars"`
	VectorOverFetch   int `yaml:"vector_over_fetch" json:"vector_over_fetch"`
	HybridLaneWidth   int `yaml:"hybrid_lane_width" json:"hybrid_lane_width"`
	PromptCharBudget  int `yaml:"prompt_char_budget" json:"prompt_char_budget"`
	GuardrailCharBudget int `yaml:"guardrail_char_budget" json:"guardrail_char_budget"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	// Provider is "ollama" or "static". Empty defaults to "ollama".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Host       string `yaml:"host" json:"host"`
}

// GenerationConfig configures the generation backend client and the
// sampling parameters used by both the Synthesizer and the Guardrail.
type GenerationConfig struct {
	URL             string        `yaml:"url" json:"url"`
	Model           string        `yaml:"model" json:"model"`
	Temperature     float64       `yaml:"temperature" json:"temperature"`
	TopP            float64       `yaml:"top_p" json:"top_p"`
	RepeatPenalty   float64       `yaml:"repeat_penalty" json:"repeat_penalty"`
	NumPredict      int           `yaml:"num_predict" json:"num_predict"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	MaxInFlight     int           `yaml:"max_in_flight" json:"max_in_flight"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
}

// ServerConfig configures process-wide logging for the CLI commands.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a Config populated with sensible defaults, matching
// the values spec.md names explicitly (RRF_K=60 is fixed elsewhere,
// not here; 4000/3000 char budgets, 0.3 temperature, 512 tokens, 0.9
// top-p, 120s generation timeout, 1 in-flight request).
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Path:          "corpus.db",
			SQLiteCacheMB: 64,
		},
		Search: SearchConfig{
			DefaultTopK:         5,
			MinContentChars:     50,
			VectorOverFetch:     3,
			HybridLaneWidth:     15,
			PromptCharBudget:    4000,
			GuardrailCharBudget: 3000,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "all-minilm",
			Dimensions: 384,
			BatchSize:  32,
			Host:       "http://localhost:11434",
		},
		Generation: GenerationConfig{
			URL:           "http://localhost:11434",
			Model:         "llama3",
			Temperature:   0.3,
			TopP:          0.9,
			RepeatPenalty: 1.1,
			NumPredict:    512,
			Timeout:       120 * time.Second,
			MaxInFlight:   1,
			MaxRetries:    3,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// Load builds the final Config by applying, in increasing precedence:
// built-in defaults, the user/global config (~/.config/chwrag/config.yaml),
// the project config (.chwrag.yaml in dir), then CHWRAG_* environment
// variables. The result is validated before being returned.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load .chwrag.yaml or .chwrag.yml from dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".chwrag.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".chwrag.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.SQLiteCacheMB != 0 {
		c.Store.SQLiteCacheMB = other.Store.SQLiteCacheMB
	}

	if other.Search.DefaultTopK != 0 {
		c.Search.DefaultTopK = other.Search.DefaultTopK
	}
	if other.Search.MinContentChars != 0 {
		c.Search.MinContentChars = other.Search.MinContentChars
	}
	if other.Search.VectorOverFetch != 0 {
		c.Search.VectorOverFetch = other.Search.VectorOverFetch
	}
	if other.Search.HybridLaneWidth != 0 {
		c.Search.HybridLaneWidth = other.Search.HybridLaneWidth
	}
	if other.Search.PromptCharBudget != 0 {
		c.Search.PromptCharBudget = other.Search.PromptCharBudget
	}
	if other.Search.GuardrailCharBudget != 0 {
		c.Search.GuardrailCharBudget = other.Search.GuardrailCharBudget
	}

	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Host != "" {
		c.Embedding.Host = other.Embedding.Host
	}

	if other.Generation.URL != "" {
		c.Generation.URL = other.Generation.URL
	}
	if other.Generation.Model != "" {
		c.Generation.Model = other.Generation.Model
	}
	if other.Generation.Temperature != 0 {
		c.Generation.Temperature = other.Generation.Temperature
	}
	if other.Generation.TopP != 0 {
		c.Generation.TopP = other.Generation.TopP
	}
	if other.Generation.RepeatPenalty != 0 {
		c.Generation.RepeatPenalty = other.Generation.RepeatPenalty
	}
	if other.Generation.NumPredict != 0 {
		c.Generation.NumPredict = other.Generation.NumPredict
	}
	if other.Generation.Timeout != 0 {
		c.Generation.Timeout = other.Generation.Timeout
	}
	if other.Generation.MaxInFlight != 0 {
		c.Generation.MaxInFlight = other.Generation.MaxInFlight
	}
	if other.Generation.MaxRetries != 0 {
		c.Generation.MaxRetries = other.Generation.MaxRetries
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies CHWRAG_* environment variable overrides,
// the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHWRAG_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CHWRAG_EMBEDDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("CHWRAG_OLLAMA_HOST"); v != "" {
		c.Embedding.Host = v
		if c.Generation.URL == "" {
			c.Generation.URL = v
		}
	}
	if v := os.Getenv("CHWRAG_OLLAMA_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("CHWRAG_GENERATION_URL"); v != "" {
		c.Generation.URL = v
	}
	if v := os.Getenv("CHWRAG_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("CHWRAG_GENERATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Generation.Timeout = d
		}
	}
	if v := os.Getenv("CHWRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CHWRAG_RRF_CONSTANT"); v != "" {
		// RRF_K is fixed at 60 by contract (spec.md §4.5); an env var
		// that tries to change it is rejected rather than silently
		// accepted, since cross-platform result parity depends on it.
		if k, err := strconv.Atoi(v); err == nil && k != 60 {
			slogConfigWarn(fmt.Sprintf("CHWRAG_RRF_CONSTANT=%d ignored: RRF_K is fixed at 60", k))
		}
	}
}

// slogConfigWarn is a narrow indirection so config stays import-light;
// callers that care about structured logging call through logging.Setup
// before Load runs, so this only needs a stderr fallback.
func slogConfigWarn(msg string) {
	fmt.Fprintln(os.Stderr, "config:", msg)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Search.DefaultTopK < 0 {
		return fmt.Errorf("search.default_top_k must be non-negative, got %d", c.Search.DefaultTopK)
	}
	if c.Search.MinContentChars < 0 {
		return fmt.Errorf("search.min_content_chars must be non-negative, got %d", c.Search.MinContentChars)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be in [0, 2], got %f", c.Generation.Temperature)
	}
	if c.Generation.TopP <= 0 || c.Generation.TopP > 1 {
		return fmt.Errorf("generation.top_p must be in (0, 1], got %f", c.Generation.TopP)
	}
	if c.Generation.MaxInFlight < 1 {
		return fmt.Errorf("generation.max_in_flight must be at least 1, got %d", c.Generation.MaxInFlight)
	}
	if c.Embedding.Dimensions != 0 && c.Embedding.Dimensions != 384 {
		return fmt.Errorf("embedding.dimensions must be 384 (I2), got %d", c.Embedding.Dimensions)
	}

	validProviders := map[string]bool{"": true, "ollama": true, "static": true}
	if !validProviders[strings.ToLower(c.Embedding.Provider)] {
		return fmt.Errorf("embedding.provider must be 'ollama', 'static', or empty, got %s", c.Embedding.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chwrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "chwrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "chwrag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file, if any.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// FindProjectRoot walks up from startDir looking for a .git directory
// or a .chwrag.yaml/.yml file, returning the first directory found, or
// the absolute form of startDir if none is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".chwrag.yaml")) ||
			fileExists(filepath.Join(currentDir, ".chwrag.yml")) {
			return currentDir, nil
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
