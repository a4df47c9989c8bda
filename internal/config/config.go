package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendGroq      = "groq"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

// DefaultPersona is the system prompt prepended to every completion request
const DefaultPersona = "You are RED, a fast AI assistant. Be helpful, concise, friendly. Use bullets for lists."

// Config holds application configuration
type Config struct {
	Addr        string `yaml:"addr"`
	Debug       bool   `yaml:"debug"`
	Persona     string `yaml:"persona"`
	AsyncTitles bool   `yaml:"async_titles"` // respond before the title is generated

	LLM     LLMConfig     `yaml:"llm"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects and configures the completion backend
type LLMConfig struct {
	Backend     string        `yaml:"backend"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StoreConfig selects the conversation store
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	DSN    string `yaml:"dsn"`
}

// CacheConfig configures the completion response cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Dir    string `yaml:"dir"`
	Level  string `yaml:"level"` // debug, info, warn, error
	Stdout bool   `yaml:"stdout"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Addr:    ":5000",
		Persona: DefaultPersona,
		LLM: LLMConfig{
			Backend:     BackendGroq,
			Temperature: 0.7,
			MaxTokens:   1500,
			Timeout:     30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Cache: CacheConfig{
			TTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	if backend := os.Getenv("REDCHAT_BACKEND"); backend != "" {
		c.LLM.Backend = backend
	}
	if model := os.Getenv("REDCHAT_MODEL"); model != "" {
		c.LLM.Model = model
	}
}

// APIKeyEnv names the environment variable holding the backend's API key
func APIKeyEnv(backend string) string {
	switch backend {
	case BackendGroq:
		return "GROQ_API_KEY"
	case BackendOpenAI:
		return "OPENAI_API_KEY"
	case BackendGrok:
		return "GROK_API_KEY"
	case BackendAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// ApplyBackendDefaults fills in the base URL, model and API key for the
// selected backend where they were not set explicitly.
func (c *Config) ApplyBackendDefaults() {
	var baseURL, model string
	switch c.LLM.Backend {
	case BackendGroq:
		baseURL, model = "https://api.groq.com/openai/v1", "llama-3.1-70b-versatile"
	case BackendOpenAI:
		baseURL, model = "https://api.openai.com/v1", "gpt-3.5-turbo"
	case BackendGrok:
		baseURL, model = "https://api.grok.x.ai/v1", "grok-1"
	case BackendAnthropic:
		baseURL, model = "https://api.anthropic.com", "claude-sonnet-4-20250514"
	case BackendOllama:
		baseURL, model = "http://localhost:11434", "llama3:latest"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = baseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = model
	}
	if c.LLM.APIKey == "" {
		if env := APIKeyEnv(c.LLM.Backend); env != "" {
			c.LLM.APIKey = os.Getenv(env)
		}
	}
	if strings.TrimSpace(c.Persona) == "" {
		c.Persona = DefaultPersona
	}
}

// Validate checks that the configuration can be used to start the server
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Backend {
	case BackendGroq, BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown backend: %s (groq|openai|grok|anthropic|ollama)", c.LLM.Backend))
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver: %s (memory|sqlite)", c.Store.Driver))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level: %s", c.Logging.Level))
	}

	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm timeout must be positive"))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("llm max_tokens must be positive"))
	}

	return errors.Join(errs...)
}
