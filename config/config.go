package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/backscratcher/lifebook/codec"
	"github.com/aschepis/backscratcher/lifebook/llm"
	"github.com/aschepis/backscratcher/lifebook/mirror"
)

// Mirror providers.
const (
	MirrorNone     = ""
	MirrorDynamoDB = "dynamodb"
	MirrorPostgres = "postgres"
)

// Config is the lifebook configuration file.
type Config struct {
	Vault         VaultConfig         `yaml:"vault"`
	Mirror        MirrorConfig        `yaml:"mirror"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Resync        ResyncConfig        `yaml:"resync"`
	Notifications NotificationsConfig `yaml:"notifications"`
	LogFile       string              `yaml:"log_file"`
}

// VaultConfig locates the local store and tunes key derivation.
type VaultConfig struct {
	Path       string `yaml:"path"`
	Salt       string `yaml:"salt"`
	Iterations int    `yaml:"iterations"`
}

// MirrorConfig selects the remote mirror backend.
type MirrorConfig struct {
	Provider string `yaml:"provider"`

	// DynamoDB
	Table    string `yaml:"table,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`

	// Postgres
	DSN string `yaml:"dsn,omitempty"`

	Concurrency      int           `yaml:"concurrency"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
}

// ProviderPreference is one entry of the extraction provider preference list.
type ProviderPreference struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// AnthropicConfig holds Anthropic credentials.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// GeminiConfig holds Gemini credentials.
type GeminiConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// OllamaConfig locates an Ollama server.
type OllamaConfig struct {
	Host  string `yaml:"host,omitempty"`
	Model string `yaml:"model,omitempty"`
}

// OpenAIConfig holds OpenAI (or compatible) credentials.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// ExtractionConfig configures the language model used for extraction and
// media analysis.
type ExtractionConfig struct {
	// Providers lists the enabled providers in fallback order.
	Providers   []string             `yaml:"providers"`
	Preferences []ProviderPreference `yaml:"preferences,omitempty"`
	MaxTokens   int                  `yaml:"max_tokens"`
	MaxRetries  int                  `yaml:"max_retries"`

	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Gemini    GeminiConfig    `yaml:"gemini,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
}

// ResyncConfig schedules periodic mirror resyncs. An empty schedule disables them.
type ResyncConfig struct {
	Schedule string `yaml:"schedule"`
}

// NotificationsConfig controls how "could not save" notices are surfaced.
type NotificationsConfig struct {
	Desktop bool   `yaml:"desktop"`
	Title   string `yaml:"title,omitempty"`
}

// GetConfigPath returns the path to the config file.
// It checks the LIFEBOOK_CONFIG_PATH environment variable first,
// then defaults to ~/.lifebook/config.yaml
func GetConfigPath() string {
	if path := os.Getenv("LIFEBOOK_CONFIG_PATH"); path != "" {
		return expandPath(path)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".lifebook", "config.yaml")
	}
	return filepath.Join(homeDir, ".lifebook", "config.yaml")
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return &Config{
		Vault: VaultConfig{
			Path:       filepath.Join(homeDir, ".lifebook", "vault.db"),
			Salt:       codec.DefaultSalt,
			Iterations: codec.DefaultIterations,
		},
		Mirror: MirrorConfig{
			Provider:         MirrorNone,
			Concurrency:      mirror.DefaultOptions().Concurrency,
			BreakerTimeout:   mirror.DefaultOptions().Timeout,
			FailureThreshold: mirror.DefaultOptions().FailureThreshold,
		},
		Extraction: ExtractionConfig{
			Providers:  []string{llm.ProviderAnthropic},
			MaxTokens:  2048,
			MaxRetries: 3,
		},
		Resync: ResyncConfig{Schedule: "@every 15m"},
		Notifications: NotificationsConfig{
			Desktop: false,
			Title:   "Lifebook",
		},
		LogFile: "lifebook.log",
	}
}

// LoadConfig loads configuration from path, merged over Defaults.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = GetConfigPath()
	}
	path = expandPath(path)

	data, err := os.ReadFile(path) //#nosec 304 -- intentional file read for config
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fileConfig Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, fileConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	cfg.Vault.Path = expandPath(cfg.Vault.Path)
	if cfg.LogFile != "" {
		cfg.LogFile = expandPath(cfg.LogFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch c.Mirror.Provider {
	case MirrorNone:
	case MirrorDynamoDB:
		if c.Mirror.Table == "" {
			return fmt.Errorf("mirror: dynamodb requires a table")
		}
	case MirrorPostgres:
		if c.Mirror.DSN == "" {
			return fmt.Errorf("mirror: postgres requires a dsn")
		}
	default:
		return fmt.Errorf("mirror: unknown provider %q", c.Mirror.Provider)
	}
	for _, p := range c.Extraction.Providers {
		switch p {
		case llm.ProviderAnthropic, llm.ProviderGemini, llm.ProviderOllama, llm.ProviderOpenAI:
		default:
			return fmt.Errorf("extraction: unknown provider %q", p)
		}
	}
	return nil
}

// SaveConfig writes cfg to path (or the default path when empty).
func SaveConfig(path string, cfg *Config) error {
	if path == "" {
		path = GetConfigPath()
	}
	path = expandPath(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}
	return path
}
