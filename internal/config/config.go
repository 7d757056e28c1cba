package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GeminiConfig holds generative language API configuration
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// Config holds all application configuration
type Config struct {
	Gemini      GeminiConfig
	DataDir     string
	StaticDir   string
	SettingsDir string
	Port        string
	LogLevel    string
}

// Load loads configuration from the environment and the settings directory.
// A .env file in the working directory is applied first if present; real
// environment variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:     getEnvOrDefault("DATA_DIR", "data"),
		StaticDir:   getEnvOrDefault("STATIC_DIR", "static"),
		SettingsDir: getEnvOrDefault("SETTINGS_DIR", "settings"),
		Port:        getEnvOrDefault("PORT", "8080"),
		LogLevel:    os.Getenv("CHAT_LOG_LEVEL"),
	}

	// The API key is normally supplied by the user at runtime and persisted
	// through the gateway; env var and secrets file are bootstrap fallbacks.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
		return cfg, nil
	}

	gemini, err := loadGeminiConfig(filepath.Join(cfg.SettingsDir, "secrets", "gemini.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	cfg.Gemini = *gemini

	return cfg, nil
}

// loadGeminiConfig loads Gemini configuration from a YAML file
func loadGeminiConfig(path string) (*GeminiConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg GeminiConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
