package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxToolRounds int    `json:"max_tool_rounds"`
	HTTP          struct {
		Listen         string   `json:"listen"`
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"http"`
	LLM struct {
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	Redis struct {
		URL      string `json:"url"`
		TTLHours int    `json:"ttl_hours"`
	} `json:"redis"`
	SerpAPI struct {
		APIKey   string `json:"api_key"`
		Endpoint string `json:"endpoint"`
	} `json:"serpapi"`
	YouTube struct {
		APIKey string `json:"api_key"`
	} `json:"youtube"`
	Heartbeat struct {
		IntervalSeconds int `json:"interval_seconds"`
		TimeoutSeconds  int `json:"timeout_seconds"`
	} `json:"heartbeat"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".checkmate"),
		LogLevel:      "info",
		MaxConcurrent: 4,
		MaxToolRounds: 3,
	}
	cfg.HTTP.Listen = ":8000"
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.LLM.BaseURL = "https://api.anthropic.com"
	cfg.LLM.Model = "claude-3-5-sonnet-20241022"
	cfg.LLM.MaxTokens = 4000
	cfg.LLM.Temperature = 0.1
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.Redis.TTLHours = 24
	cfg.SerpAPI.Endpoint = "https://serpapi.com/search.json"
	cfg.Heartbeat.IntervalSeconds = 10
	cfg.Heartbeat.TimeoutSeconds = 30

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("ANTHROPIC_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if serpKey := os.Getenv("SERPAPI_API_KEY"); serpKey != "" {
		cfg.SerpAPI.APIKey = serpKey
	}
	if ytKey := os.Getenv("YOUTUBE_API_KEY"); ytKey != "" {
		cfg.YouTube.APIKey = ytKey
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
