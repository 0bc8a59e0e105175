// Package config holds the engine configuration: logging, LLM and
// embedder settings, vector store location, data source toggles and
// session persistence.
package config

import (
	"fmt"
	"os"
	"time"
)

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

type LLMConfig struct {
	Model       string  `koanf:"model"`
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	MaxRetries  int     `koanf:"max_retries"`
}

type EmbedderConfig struct {
	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key"`
	BaseURL   string `koanf:"base_url"`
	Dimension int    `koanf:"dimension"`
}

type VectorConfig struct {
	// Path enables on-disk persistence; empty keeps the store in memory.
	Path             string `koanf:"path"`
	QueryCacheTTLSec int    `koanf:"query_cache_ttl_sec"`
}

type CacheConfig struct {
	TTLHours int `koanf:"ttl_hours"`
}

// TTL returns the cache lifetime, defaulting to a day.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

type SessionConfig struct {
	Dir string `koanf:"dir"`
}

type SourcesConfig struct {
	// Enabled toggles integrations by source name. Env variables of the
	// form ENABLE_<NAME> override these values.
	Enabled           map[string]bool `koanf:"enabled"`
	AlphaVantageKey   string          `koanf:"alpha_vantage_key"`
	FMPKey            string          `koanf:"fmp_key"`
	YahooBaseURL      string          `koanf:"yahoo_base_url"`
	AlphaVantageURL   string          `koanf:"alpha_vantage_url"`
	FMPBaseURL        string          `koanf:"fmp_base_url"`
	RequestTimeoutSec int             `koanf:"request_timeout_sec"`
}

type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	LLM      LLMConfig      `koanf:"llm"`
	Embedder EmbedderConfig `koanf:"embedder"`
	Vector   VectorConfig   `koanf:"vector"`
	Cache    CacheConfig    `koanf:"cache"`
	Session  SessionConfig  `koanf:"session"`
	Sources  SourcesConfig  `koanf:"sources"`
}

// Default returns a config that works without a config file, reading
// API keys from the environment.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "simple",
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Temperature: 0.3,
			MaxTokens:   4096,
			MaxRetries:  3,
		},
		Embedder: EmbedderConfig{
			Model:     "text-embedding-ada-002",
			APIKey:    os.Getenv("OPENAI_API_KEY"),
			Dimension: 1536,
		},
		Vector: VectorConfig{
			QueryCacheTTLSec: 3600,
		},
		Cache: CacheConfig{
			TTLHours: 24,
		},
		Session: SessionConfig{
			Dir: "./sessions",
		},
		Sources: SourcesConfig{
			Enabled:           map[string]bool{},
			AlphaVantageKey:   os.Getenv("ALPHA_VANTAGE_API_KEY"),
			FMPKey:            os.Getenv("FMP_API_KEY"),
			RequestTimeoutSec: 30,
		},
	}
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension must be positive, got %d", c.Embedder.Dimension)
	}
	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("cache.ttl_hours must be positive, got %d", c.Cache.TTLHours)
	}
	for name := range c.Sources.Enabled {
		if !knownSource(name) {
			return fmt.Errorf("unknown data source in sources.enabled: %q", name)
		}
	}
	return nil
}

func knownSource(name string) bool {
	switch name {
	case SourceYahoo, SourceAlphaVantage, SourceFMP:
		return true
	}
	return false
}
