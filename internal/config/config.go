// Package config loads Kairos configuration from an optional YAML file
// and environment variables with the KAIROS_ prefix. Environment
// variables win over file values; every option has a sensible default.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all settings for the Kairos services.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Resolution ResolutionConfig `yaml:"resolution"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"KAIROS_HOST" env-default:"127.0.0.1"`
	Port int    `yaml:"port" env:"KAIROS_PORT" env-default:"8700"`

	// RequestsPerSecond rate-limits the API per client address.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"KAIROS_REQUESTS_PER_SECOND" env-default:"25"`

	// APIToken, when set, is required as a bearer token on every request.
	APIToken string `yaml:"api_token" env:"KAIROS_API_TOKEN"`
}

// StorageConfig selects and configures the graph store engine.
type StorageConfig struct {
	// Engine is "sqlite" or "postgres".
	Engine   string `yaml:"engine" env:"KAIROS_STORAGE_ENGINE" env-default:"sqlite"`
	DataPath string `yaml:"data_path" env:"KAIROS_DATA_PATH" env-default:"./data"`

	// PostgresDSN is required when Engine is "postgres".
	PostgresDSN string `yaml:"postgres_dsn" env:"KAIROS_POSTGRES_DSN"`

	// EnableEmbeddings turns on the pgvector candidate source. Requires
	// the postgres engine and an embedding-capable LLM provider.
	EnableEmbeddings bool `yaml:"enable_embeddings" env:"KAIROS_ENABLE_EMBEDDINGS" env-default:"false"`
}

// LLMConfig configures the semantic service providers.
type LLMConfig struct {
	// Provider is "anthropic", "openai", or "ollama".
	Provider       string `yaml:"provider" env:"KAIROS_LLM_PROVIDER" env-default:"ollama"`
	APIKey         string `yaml:"api_key" env:"KAIROS_LLM_API_KEY"`
	Model          string `yaml:"model" env:"KAIROS_LLM_MODEL"`
	BaseURL        string `yaml:"base_url" env:"KAIROS_LLM_BASE_URL"`
	EmbeddingModel string `yaml:"embedding_model" env:"KAIROS_LLM_EMBEDDING_MODEL"`

	// RequestsPerSecond caps outbound model calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"KAIROS_LLM_REQUESTS_PER_SECOND" env-default:"5"`
}

// ResolutionConfig tunes the resolution pipeline.
type ResolutionConfig struct {
	// Scorer is "feature" (deterministic) or "semantic" (model-backed
	// with deterministic fallback).
	Scorer string `yaml:"scorer" env:"KAIROS_SCORER" env-default:"feature"`

	// EnableEdges turns on entailment-gated relationship edges.
	EnableEdges bool `yaml:"enable_edges" env:"KAIROS_ENABLE_EDGES" env-default:"true"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level" env:"KAIROS_LOG_LEVEL" env-default:"info"`

	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development" env:"KAIROS_LOG_DEV" env-default:"false"`
}

// Load reads configuration from the given YAML file (skipped when the
// path is empty or the file does not exist) and the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			return &cfg, cfg.validate()
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres engine requires KAIROS_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "ollama", "":
	case "anthropic", "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("config: provider %s requires KAIROS_LLM_API_KEY", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Resolution.Scorer {
	case "feature", "semantic":
	default:
		return fmt.Errorf("config: unknown scorer %q", c.Resolution.Scorer)
	}

	if c.Storage.EnableEmbeddings && c.Storage.Engine != "postgres" {
		return fmt.Errorf("config: embeddings require the postgres engine")
	}
	return nil
}
