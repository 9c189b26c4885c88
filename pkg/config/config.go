// Package config loads the pipeline configuration from a JSON file with
// environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Context  ContextConfig  `json:"context"`
	Memory   MemoryConfig   `json:"memory"`
	Stream   StreamConfig   `json:"stream"`
	Log      LogConfig      `json:"log"`
}

type ProviderConfig struct {
	APIKey      string  `json:"api_key" env:"CHATPIPE_PROVIDER_API_KEY"`
	APIBase     string  `json:"api_base" env:"CHATPIPE_PROVIDER_API_BASE"`
	Model       string  `json:"model" env:"CHATPIPE_PROVIDER_MODEL"`
	Proxy       string  `json:"proxy,omitempty" env:"CHATPIPE_PROVIDER_PROXY"`
	MaxTokens   int     `json:"max_tokens" env:"CHATPIPE_PROVIDER_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"CHATPIPE_PROVIDER_TEMPERATURE"`
}

type ContextConfig struct {
	MaxContextTokens    int     `json:"max_context_tokens" env:"CHATPIPE_CONTEXT_MAX_CONTEXT_TOKENS"`
	CompactionThreshold float64 `json:"compaction_threshold" env:"CHATPIPE_CONTEXT_COMPACTION_THRESHOLD"`
	MaxRecentMessages   int     `json:"max_recent_messages" env:"CHATPIPE_CONTEXT_MAX_RECENT_MESSAGES"`
	SummaryChunkSize    int     `json:"summary_chunk_size" env:"CHATPIPE_CONTEXT_SUMMARY_CHUNK_SIZE"`
	MaxSummaries        int     `json:"max_summaries" env:"CHATPIPE_CONTEXT_MAX_SUMMARIES"`
	ReservedTokens      int     `json:"reserved_tokens" env:"CHATPIPE_CONTEXT_RESERVED_TOKENS"`
}

type MemoryConfig struct {
	Enabled           bool   `json:"enabled" env:"CHATPIPE_MEMORY_ENABLED"`
	DBPath            string `json:"db_path" env:"CHATPIPE_MEMORY_DB_PATH"`
	RecallLimit       int    `json:"recall_limit" env:"CHATPIPE_MEMORY_RECALL_LIMIT"`
	CacheSeconds      int    `json:"cache_seconds" env:"CHATPIPE_MEMORY_CACHE_SECONDS"`
	QueueDepth        int    `json:"queue_depth" env:"CHATPIPE_MEMORY_QUEUE_DEPTH"`
	ExtractionDelayMS int    `json:"extraction_delay_ms" env:"CHATPIPE_MEMORY_EXTRACTION_DELAY_MS"`
	SweepSchedule     string `json:"sweep_schedule" env:"CHATPIPE_MEMORY_SWEEP_SCHEDULE"`
}

type StreamConfig struct {
	FlushBufferLimit int  `json:"flush_buffer_limit" env:"CHATPIPE_STREAM_FLUSH_BUFFER_LIMIT"`
	ToneFilter       bool `json:"tone_filter" env:"CHATPIPE_STREAM_TONE_FILTER"`
}

type LogConfig struct {
	Level string `json:"level" env:"CHATPIPE_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			APIBase:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-5.2",
			MaxTokens:   8192,
			Temperature: 0.7,
		},
		Context: ContextConfig{
			MaxContextTokens:    8192,
			CompactionThreshold: 0.8,
			MaxRecentMessages:   10,
			SummaryChunkSize:    20,
			MaxSummaries:        5,
			ReservedTokens:      1024,
		},
		Memory: MemoryConfig{
			Enabled:           true,
			DBPath:            "~/.chatpipe/memory.db",
			RecallLimit:       5,
			CacheSeconds:      20,
			QueueDepth:        64,
			ExtractionDelayMS: 150,
			SweepSchedule:     "0 3 * * *",
		},
		Stream: StreamConfig{
			FlushBufferLimit: 500,
			ToneFilter:       true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path if it exists, then applies environment overrides. A
// missing file is not an error; defaults plus environment win.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) validate() error {
	if c.Context.CompactionThreshold <= 0 || c.Context.CompactionThreshold > 1 {
		return fmt.Errorf("compaction_threshold must be in (0, 1], got %v", c.Context.CompactionThreshold)
	}
	if c.Context.ReservedTokens >= c.Context.MaxContextTokens {
		return fmt.Errorf("reserved_tokens (%d) must be below max_context_tokens (%d)",
			c.Context.ReservedTokens, c.Context.MaxContextTokens)
	}
	return nil
}

// MemoryDBPath returns the store path with ~ expanded.
func (c *Config) MemoryDBPath() string {
	return expandHome(c.Memory.DBPath)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
