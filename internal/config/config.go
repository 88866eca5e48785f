// Package config provides configuration loading and structs for the imgsearch server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. IMGSEARCH_STORAGE_DIR.
const EnvPrefix = "IMGSEARCH"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug" envconfig:"DEBUG"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int    `yaml:"port" envconfig:"PORT"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the persistent store location and the collection images are indexed into.
type StorageConfig struct {
	Dir        string `yaml:"dir" envconfig:"DIR"`
	Collection string `yaml:"collection" envconfig:"COLLECTION"`
}

// EmbeddingConfig holds CLIP embedder settings.
type EmbeddingConfig struct {
	Provider        string  `yaml:"provider" envconfig:"PROVIDER"`
	VisualModelPath string  `yaml:"visual_model_path" envconfig:"VISUAL_MODEL_PATH"`
	TextModelPath   string  `yaml:"text_model_path" envconfig:"TEXT_MODEL_PATH"`
	VocabPath       string  `yaml:"vocab_path" envconfig:"VOCAB_PATH"`
	MergesPath      string  `yaml:"merges_path" envconfig:"MERGES_PATH"`
	LibraryPath     string  `yaml:"library_path" envconfig:"LIBRARY_PATH"`
	Dimensions      int     `yaml:"dimensions" envconfig:"DIMENSIONS"`
	ImageSize       int     `yaml:"image_size" envconfig:"IMAGE_SIZE"`
	ContextLength   int     `yaml:"context_length" envconfig:"CONTEXT_LENGTH"`
	CacheSize       int     `yaml:"cache_size" envconfig:"CACHE_SIZE"`
	RateLimit       float64 `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// IndexConfig controls folder scanning and the embedding worker pool.
type IndexConfig struct {
	Extensions []string `yaml:"extensions" envconfig:"EXTENSIONS"`
	Recursive  bool     `yaml:"recursive" envconfig:"RECURSIVE"`
	Workers    int      `yaml:"workers" envconfig:"WORKERS"`
}

// SearchConfig holds result count limits.
type SearchConfig struct {
	DefaultK int `yaml:"default_k" envconfig:"DEFAULT_K"`
	MaxK     int `yaml:"max_k" envconfig:"MAX_K"`
}

// WatchConfig controls rebuilding the active folder when it changes on disk.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled" envconfig:"ENABLED"`
	DebounceMS int  `yaml:"debounce_ms" envconfig:"DEBOUNCE_MS"`
}

// Load reads and parses the config file at path, applies defaults, expands paths
// and finally applies environment overrides.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Dir = expandPath(cfg.Storage.Dir, configDir)
	for _, p := range cfg.Embedding.paths() {
		*p = expandPath(*p, configDir)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// Used when no config file exists.
func Default() (*Config, error) {
	var cfg Config
	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with IMGSEARCH_* environment variables, one prefix per section.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{EnvPrefix + "_SERVER", &cfg.Server},
		{EnvPrefix + "_STORAGE", &cfg.Storage},
		{EnvPrefix + "_EMBEDDING", &cfg.Embedding},
		{EnvPrefix + "_INDEX", &cfg.Index},
		{EnvPrefix + "_SEARCH", &cfg.Search},
		{EnvPrefix + "_WATCH", &cfg.Watch},
	}
	if v, ok := os.LookupEnv(EnvPrefix + "_DEBUG"); ok {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return fmt.Errorf("failed to apply %s environment: %w", s.prefix, err)
		}
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (e *EmbeddingConfig) paths() []*string {
	return []*string{&e.VisualModelPath, &e.TextModelPath, &e.VocabPath, &e.MergesPath, &e.LibraryPath}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
