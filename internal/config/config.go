package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration.
type Config struct {
	GitHub struct {
		Token      string `koanf:"token"`
		APIURL     string `koanf:"api_url"`
		Timeout    int    `koanf:"timeout"`     // seconds
		MaxRetries int    `koanf:"max_retries"`
		UserAgent  string `koanf:"user_agent"`
	} `koanf:"github"`

	Database struct {
		URL      string `koanf:"url"`
		MaxConns int    `koanf:"max_conns"`
	} `koanf:"database"`

	Model struct {
		Provider    string  `koanf:"provider"` // "openai" or "googleai"
		APIKey      string  `koanf:"api_key"`
		Name        string  `koanf:"name"`
		Temperature float64 `koanf:"temperature"`
		MaxTokens   int     `koanf:"max_tokens"`
	} `koanf:"model"`

	Session struct {
		StalenessSeconds int `koanf:"staleness_seconds"`
	} `koanf:"session"`

	API struct {
		Port int `koanf:"port"`
	} `koanf:"api"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"github.api_url":            "https://api.github.com",
		"github.timeout":            30,
		"github.max_retries":        3,
		"github.user_agent":         "CodeReader/1.0",
		"database.max_conns":        10,
		"model.provider":            "openai",
		"model.name":                "gpt-4o-mini",
		"model.temperature":         0.2,
		"model.max_tokens":          4096,
		"session.staleness_seconds": 30,
		"api.port":                  8080,
		"log.level":                 "info",
	}, "."), nil)

	// Load from TOML file if it exists. The CLI always passes its default
	// flag value, so a missing file falls through to env and defaults.
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./codereader.toml", "$HOME/.codereader.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix CODEREADER_
	k.Load(env.Provider("CODEREADER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CODEREADER_")), "_", ".", 1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# CodeReader Configuration

[github]
token = "your-github-token"
api_url = "https://api.github.com"
timeout = 30
max_retries = 3

[model]
provider = "openai"
api_key = "your-model-api-key"
name = "gpt-4o-mini"
temperature = 0.2

[database]
url = "postgres://localhost:5432/codereader"

[session]
staleness_seconds = 30

[api]
port = 8080

[log]
level = "info"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.GitHub.APIURL == "" {
		return fmt.Errorf("github api_url is required")
	}

	if config.GitHub.Timeout <= 0 {
		return fmt.Errorf("github timeout must be positive")
	}

	if config.GitHub.MaxRetries < 0 {
		return fmt.Errorf("github max_retries must not be negative")
	}

	if config.Session.StalenessSeconds <= 0 {
		return fmt.Errorf("session staleness_seconds must be positive")
	}

	if config.API.Port <= 0 || config.API.Port > 65535 {
		return fmt.Errorf("api port %d is out of range", config.API.Port)
	}

	switch config.Model.Provider {
	case "openai", "googleai":
	default:
		return fmt.Errorf("unsupported model provider %q", config.Model.Provider)
	}

	return nil
}
