package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nexus-agent/nexus/pkg/models"
)

// Config holds all Nexus configuration.
type Config struct {
	Listen     string              `yaml:"listen" toml:"listen"`
	Backends   []BackendConfig     `yaml:"backends" toml:"backends"`
	Routing    map[string][]string `yaml:"routing" toml:"routing"`
	Classifier ClassifierConfig    `yaml:"classifier" toml:"classifier"`
	Cache      CacheConfig         `yaml:"cache" toml:"cache"`
	Retry      RetryConfig         `yaml:"retry" toml:"retry"`
	Logging    LoggingConfig       `yaml:"logging" toml:"logging"`
	History    HistoryConfig       `yaml:"history" toml:"history"`
}

// BackendConfig defines one model-serving endpoint.
// Kind is "ollama", "huggingface" or "openai".
type BackendConfig struct {
	Name         string                     `yaml:"name" toml:"name"`
	Kind         string                     `yaml:"kind" toml:"kind"`
	Endpoint     string                     `yaml:"endpoint" toml:"endpoint"`
	Model        string                     `yaml:"model" toml:"model"`
	APIKey       string                     `yaml:"api_key" toml:"api_key"`
	Timeout      time.Duration              `yaml:"timeout" toml:"timeout"`
	MaxRetries   int                        `yaml:"max_retries" toml:"max_retries"`
	RateLimit    float64                    `yaml:"rate_limit" toml:"rate_limit"`
	Quantization models.QuantizationOptions `yaml:"quantization" toml:"quantization"`
}

// ClassifierConfig holds the keyword sets used to categorize input.
type ClassifierConfig struct {
	CodingKeywords  []string `yaml:"coding_keywords" toml:"coding_keywords"`
	SimpleKeywords  []string `yaml:"simple_keywords" toml:"simple_keywords"`
	ComplexKeywords []string `yaml:"complex_keywords" toml:"complex_keywords"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
	TTL        time.Duration `yaml:"ttl" toml:"ttl"`
}

// RetryConfig controls the delay between retries of the same backend.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" toml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier" toml:"multiplier"`
}

// LoggingConfig controls log output. Format is "console" or "json".
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// HistoryConfig controls the persistent call history.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	DBPath    string        `yaml:"db_path" toml:"db_path"`
	Retention time.Duration `yaml:"retention" toml:"retention"`
}

const defaultBackendTimeout = 30 * time.Second

// Default returns a Config with the stock two-tier setup: a local Ollama
// coder model with Hugging Face endpoints for quick answers and fallback.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Backends: []BackendConfig{
			{Name: "ollama_coder", Kind: "ollama", Endpoint: "http://127.0.0.1:11434", Model: "llama3.2:3b", Timeout: 60 * time.Second, MaxRetries: 1},
			{Name: "hf_fallback", Kind: "huggingface", Endpoint: "http://127.0.0.1:8081", Model: "mistral:7b-instruct", Timeout: 30 * time.Second, MaxRetries: 1},
			{Name: "hf_fast", Kind: "huggingface", Endpoint: "http://127.0.0.1:8082", Model: "microsoft/DialoGPT-small", Timeout: 5 * time.Second},
			{Name: "hf_balanced", Kind: "huggingface", Endpoint: "http://127.0.0.1:8083", Model: "microsoft/DialoGPT-medium", Timeout: 15 * time.Second, MaxRetries: 1},
		},
		Routing: map[string][]string{
			string(models.CategoryCoding):    {"ollama_coder", "hf_fallback"},
			string(models.CategorySimple):    {"hf_fast", "hf_balanced"},
			string(models.CategoryComplex):   {"ollama_coder", "hf_balanced"},
			string(models.CategorySpeedTest): {"hf_fast"},
		},
		Classifier: ClassifierConfig{
			CodingKeywords: []string{
				"code", "function", "class", "algorithm", "debug", "refactor",
				"implement", "optimize", "architecture", "design pattern",
				"write", "create", "generate", "solve", "fix", "improve",
			},
			SimpleKeywords: []string{
				"hello", "hi", "how are you", "what is", "explain briefly",
				"quick", "simple", "basic", "help", "assist",
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 1000,
			TTL:        time.Hour,
		},
		Retry: RetryConfig{
			InitialInterval: time.Second,
			MaxInterval:     8 * time.Second,
			Multiplier:      2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		History: HistoryConfig{
			Enabled:   false,
			DBPath:    "nexus.db",
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// Load reads a YAML (or .toml) config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	// Lists and maps replace the defaults instead of merging with them.
	cfg.Backends = nil
	cfg.Routing = nil

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Backends {
		if c.Backends[i].Timeout == 0 {
			c.Backends[i].Timeout = defaultBackendTimeout
		}
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = Default().Cache.MaxEntries
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = Default().Retry.Multiplier
	}
}

// Descriptor converts a backend entry into its runtime descriptor.
func (b BackendConfig) Descriptor() (models.BackendDescriptor, error) {
	kind, err := models.ParseBackendKind(b.Kind)
	if err != nil {
		return models.BackendDescriptor{}, err
	}
	timeout := b.Timeout
	if timeout == 0 {
		timeout = defaultBackendTimeout
	}
	return models.BackendDescriptor{
		Name:         b.Name,
		Kind:         kind,
		Endpoint:     strings.TrimRight(b.Endpoint, "/"),
		ModelID:      b.Model,
		Timeout:      timeout,
		MaxRetries:   b.MaxRetries,
		Quantization: b.Quantization,
		APIKey:       b.APIKey,
		RateLimit:    b.RateLimit,
	}, nil
}
