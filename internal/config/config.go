package config

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/text/language"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// Assistant Configuration:
// - ASSISTANT_API_KEY: API key for the assistant provider (required)
// - ASSISTANT_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - ASSISTANT_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - ASSISTANT_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - ASSISTANT_TEMPERATURE: Temperature for responses (default: 0.2)
// - ASSISTANT_TIMEOUT: Request timeout in seconds (default: 120)
//
// Storage Configuration:
// - DATA_DIR: Root data directory (default: /data)
// - DB_PATH: SQLite database path (default: <DATA_DIR>/docforge.db)
//
// Matching Configuration:
// - MATCH_BATCH_SIZE: Documents scored concurrently per batch (default: 10)
// - MATCH_RELEVANCE_CAP: Relevance entries kept per document (default: 20)
// - MATCH_CRON_EXPR: Schedule for background matching sweeps (default: "0 0 3 * * *")
// - MATCH_JOB_HISTORY: Terminal jobs retained by cleanup (default: 50)
//
// Sandbox Configuration:
// - SANDBOX_EXEC_BUDGET: Generator wall-clock budget in seconds (default: 60)
//
// System Configuration:
// - HTTP_ADDR: Listen address for the HTTP API (default: :8080)
// - DEFAULT_LANGUAGE: Fallback document language (default: en)

type Config struct {
	Assistant AssistantConfig `json:"assistant"`
	Storage   StorageConfig   `json:"storage"`
	Matching  MatchingConfig  `json:"matching"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	System    SystemConfig    `json:"system"`
}

// AssistantConfig holds the configuration for the assistant client
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, etc.)
type AssistantConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"` // seconds
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
	DBPath  string `json:"db_path"`
}

type MatchingConfig struct {
	BatchSize    int    `json:"batch_size"`
	RelevanceCap int    `json:"relevance_cap"`
	CronExpr     string `json:"cron_expr"`
	JobHistory   int    `json:"job_history"`
}

type SandboxConfig struct {
	ExecBudget int `json:"exec_budget"` // seconds
}

type SystemConfig struct {
	HTTPAddr        string       `json:"http_addr"`
	DefaultLanguage language.Tag `json:"default_language"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{
		Assistant: AssistantConfig{
			APIKey:      os.Getenv("ASSISTANT_API_KEY"),
			APIURL:      getEnv("ASSISTANT_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnv("ASSISTANT_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("ASSISTANT_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("ASSISTANT_TEMPERATURE", 0.2),
			Timeout:     getEnvInt("ASSISTANT_TIMEOUT", 120),
		},
		Storage: StorageConfig{
			DataDir: getEnv("DATA_DIR", "/data"),
		},
		Matching: MatchingConfig{
			BatchSize:    getEnvInt("MATCH_BATCH_SIZE", 10),
			RelevanceCap: getEnvInt("MATCH_RELEVANCE_CAP", 20),
			CronExpr:     getEnv("MATCH_CRON_EXPR", "0 0 3 * * *"),
			JobHistory:   getEnvInt("MATCH_JOB_HISTORY", 50),
		},
		Sandbox: SandboxConfig{
			ExecBudget: getEnvInt("SANDBOX_EXEC_BUDGET", 60),
		},
		System: SystemConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
	}

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DataDir+"/docforge.db")

	langCode := getEnv("DEFAULT_LANGUAGE", "en")
	tag, err := language.Parse(langCode)
	if err != nil {
		return cfg, fmt.Errorf("invalid DEFAULT_LANGUAGE %q: %w", langCode, err)
	}
	cfg.System.DefaultLanguage = tag

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Assistant.APIKey == "" {
		return fmt.Errorf("ASSISTANT_API_KEY is required")
	}
	if c.Matching.BatchSize <= 0 {
		return fmt.Errorf("MATCH_BATCH_SIZE must be positive")
	}
	if c.Matching.RelevanceCap <= 0 {
		return fmt.Errorf("MATCH_RELEVANCE_CAP must be positive")
	}
	if c.Sandbox.ExecBudget <= 0 {
		return fmt.Errorf("SANDBOX_EXEC_BUDGET must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
