package loomserver

import (
	"fmt"
	"os"
)

// AppConfig holds runtime configuration loaded from env and flags.
type AppConfig struct {
	// Server
	Host string
	Port int

	// LLM provider keys
	AnthropicAPIKey string
	OpenAIAPIKey    string
	TavilyAPIKey    string

	// Ollama
	OllamaBaseURL string

	// Gateway (OpenAI-compatible proxy)
	GatewayBaseURL      string
	GatewayAPIKey       string
	GatewayTokenURL     string
	GatewayClientID     string
	GatewayClientSecret string

	// Agent defaults
	DefaultModel   string
	DefaultBackend string

	// Auth
	GatewayURL string

	// Config file path
	ConfigPath string
}

// LoadAppConfig reads configuration from environment variables with sensible defaults.
func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Host: envOr("HOST", "0.0.0.0"),
		Port: envIntOr("PORT", 8000),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		TavilyAPIKey:    os.Getenv("TAVILY_API_KEY"),

		OllamaBaseURL: envOr("OLLAMA_BASE_URL", "http://localhost:11434"),

		GatewayBaseURL:      envOr("GATEWAY_BASE_URL", "http://localhost:4000"),
		GatewayAPIKey:       os.Getenv("GATEWAY_API_KEY"),
		GatewayTokenURL:     os.Getenv("GATEWAY_TOKEN_URL"),
		GatewayClientID:     os.Getenv("GATEWAY_CLIENT_ID"),
		GatewayClientSecret: os.Getenv("GATEWAY_CLIENT_SECRET"),

		DefaultModel:   envOr("DEFAULT_MODEL", "ollama:llama3.1:8b"),
		DefaultBackend: envOr("DEFAULT_BACKEND", "state"),

		GatewayURL: os.Getenv("LOOM_GATEWAY_URL"),
	}
}

// envOr returns the environment variable or a default value.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envIntOr returns the environment variable as int or a default value.
func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
