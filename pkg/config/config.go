package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	DB        DBConfig        `yaml:"db"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Planner   PlannerConfig   `yaml:"planner"`
	Refiner   RefinerConfig   `yaml:"refiner"`
	Sources   SourcesConfig   `yaml:"sources"`
	Library   LibraryConfig   `yaml:"library"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	LLM      LogSettings `yaml:"llm"`
	Trace    bool        `yaml:"trace"` // Per-pattern and per-lookup scoring at DEBUG
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path     string   `yaml:"path"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// ProviderConfig configures a single LLM backend.
type ProviderConfig struct {
	Type     string            `yaml:"type"` // "gemini", "openai"
	Key      string            `yaml:"key"`
	BaseURL  string            `yaml:"base_url,omitempty"`
	Model    string            `yaml:"model"`
	Profiles map[string]string `yaml:"profiles"` // Map of intent -> model
}

// LLMConfig holds settings for scene generation.
type LLMConfig struct {
	Enabled   bool                      `yaml:"enabled"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Fallback  []string                  `yaml:"fallback"` // Ordered provider names
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider   string   `yaml:"provider"` // "hash", "openai"
	BaseURL    string   `yaml:"base_url"`
	Key        string   `yaml:"key"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	Timeout    Duration `yaml:"timeout"`
	Cache      bool     `yaml:"cache"`
}

// PlannerConfig holds scene planning settings.
type PlannerConfig struct {
	PromptDir     string `yaml:"prompt_dir"`     // Empty uses the built-in templates
	MaxInputChars int    `yaml:"max_input_chars"` // Document text budget sent to the LLM
	Seed          int64  `yaml:"seed"`            // 0 seeds from the clock
}

// RefinerConfig holds visual query refinement settings.
type RefinerConfig struct {
	PatternsPath string `yaml:"patterns_path"` // Empty uses the built-in knowledge base
	TopK         int    `yaml:"top_k"`
}

// SourceConfig holds credentials for one stock-video source.
type SourceConfig struct {
	Key     string `yaml:"key"`
	BaseURL string `yaml:"base_url"`
	PerPage int    `yaml:"per_page"`
}

// SourcesConfig holds the external stock-video sources.
type SourcesConfig struct {
	Pexels      SourceConfig `yaml:"pexels"`
	Pixabay     SourceConfig `yaml:"pixabay"`
	DownloadDir string       `yaml:"download_dir"`
}

// LibraryConfig holds asset library settings.
type LibraryConfig struct {
	ReuseThreshold float64 `yaml:"reuse_threshold"`
}

// SchedulerConfig holds conversion scheduler settings.
type SchedulerConfig struct {
	Capacity      int      `yaml:"capacity"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryBackoff  Duration `yaml:"retry_backoff"`
}

// PipelineConfig holds document processing settings.
type PipelineConfig struct {
	OutputDir        string `yaml:"output_dir"`
	MaxFileSizeMB    int    `yaml:"max_file_size_mb"`
	BatchParallelism int    `yaml:"batch_parallelism"`
	ProcessingLog    bool   `yaml:"processing_log"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			LLM: LogSettings{
				Path:  "./logs/llm.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:     "./data/docuscene.db",
			CacheTTL: Duration(7 * Day),
		},
		Server: ServerConfig{
			Address: "localhost:8787",
		},
		LLM: LLMConfig{
			Enabled: true,
			Providers: map[string]ProviderConfig{
				"gemini": {
					Type:  "gemini",
					Model: "gemini-2.5-flash-lite",
					Profiles: map[string]string{
						"scenes": "gemini-2.5-flash",
					},
				},
				"openai": {
					Type:    "openai",
					BaseURL: "https://api.openai.com/v1",
					Profiles: map[string]string{
						"scenes": "gpt-4o-mini",
					},
				},
			},
			Fallback: []string{"gemini", "openai"},
		},
		Embedding: EmbeddingConfig{
			Provider: "hash",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "text-embedding-3-small",
			Timeout:  Duration(60 * time.Second),
			Cache:    true,
		},
		Planner: PlannerConfig{
			MaxInputChars: 12000,
		},
		Refiner: RefinerConfig{
			TopK: 3,
		},
		Sources: SourcesConfig{
			Pexels: SourceConfig{
				BaseURL: "https://api.pexels.com",
				PerPage: 15,
			},
			Pixabay: SourceConfig{
				BaseURL: "https://pixabay.com",
				PerPage: 20,
			},
			DownloadDir: "./data/assets",
		},
		Library: LibraryConfig{
			ReuseThreshold: 0.80,
		},
		Scheduler: SchedulerConfig{
			Capacity:      3,
			RetryAttempts: 0,
			RetryBackoff:  Duration(1 * time.Second),
		},
		Pipeline: PipelineConfig{
			OutputDir:        "./output",
			MaxFileSizeMB:    50,
			BatchParallelism: 2,
			ProcessingLog:    true,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
// API keys left empty in the file are taken from the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills empty credentials from the environment.
func applyEnv(cfg *Config) {
	envKeys := map[string]string{
		"gemini": "GEMINI_API_KEY",
		"openai": "OPENAI_API_KEY",
	}
	for name, p := range cfg.LLM.Providers {
		if p.Key != "" {
			continue
		}
		if env, ok := envKeys[p.Type]; ok {
			p.Key = os.Getenv(env)
			cfg.LLM.Providers[name] = p
		}
	}
	if cfg.Embedding.Key == "" {
		cfg.Embedding.Key = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Sources.Pexels.Key == "" {
		cfg.Sources.Pexels.Key = os.Getenv("PEXELS_API_KEY")
	}
	if cfg.Sources.Pixabay.Key == "" {
		cfg.Sources.Pixabay.Key = os.Getenv("PIXABAY_API_KEY")
	}
}

// Validate checks value ranges that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Library.ReuseThreshold < 0 || c.Library.ReuseThreshold > 1 {
		return fmt.Errorf("library.reuse_threshold must be within [0, 1], got %v", c.Library.ReuseThreshold)
	}
	if c.Scheduler.Capacity < 1 {
		return fmt.Errorf("scheduler.capacity must be at least 1, got %d", c.Scheduler.Capacity)
	}
	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("scheduler.retry_attempts must not be negative, got %d", c.Scheduler.RetryAttempts)
	}
	switch c.Embedding.Provider {
	case "hash", "openai":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	for _, name := range c.LLM.Fallback {
		if _, ok := c.LLM.Providers[name]; !ok {
			return fmt.Errorf("llm.fallback references unknown provider %q", name)
		}
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# docuscene configuration
# -----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Empty API keys are read from GEMINI_API_KEY, OPENAI_API_KEY,
# PEXELS_API_KEY and PIXABAY_API_KEY.

`)
	data = append(header, data...)

	reEmb := regexp.MustCompile(`(?m)^(\s+)provider: hash`)
	data = reEmb.ReplaceAll(data, []byte("${1}# Options: hash, openai\n${1}provider: hash"))

	reThreshold := regexp.MustCompile(`(?m)^(\s+)reuse_threshold:`)
	data = reThreshold.ReplaceAll(data, []byte("${1}# Minimum cosine similarity for reusing a library asset\n${1}reuse_threshold:"))

	reCapacity := regexp.MustCompile(`(?m)^(\s+)capacity:`)
	data = reCapacity.ReplaceAll(data, []byte("${1}# Maximum number of concurrently running conversion jobs\n${1}capacity:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
