package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/illias/pkg/validate"
)

// Default values applied to fields left empty in the config file.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 1024
	DefaultSystemPrompt  = "You are a helpful assistant."
	DefaultAppTitle      = "Illias"
	DefaultServerAddr    = "127.0.0.1:8080"
	DefaultLogLevel      = "info"
	DefaultDecimalPlaces = 6
)

// Config is the top-level client configuration.
type Config struct {
	Catalog  string         `yaml:"catalog"` // Optional catalog file; empty uses the built-in catalog.
	Defaults DefaultsConfig `yaml:"defaults"`
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Cost     CostConfig     `yaml:"cost"`
}

// DefaultsConfig holds the initial selection and parameters of new sessions.
type DefaultsConfig struct {
	Provider     string   `yaml:"provider"` // Empty means the first catalog provider.
	Model        string   `yaml:"model"`    // Empty means the provider's first model.
	Temperature  *float64 `yaml:"temperature" validate:"omitnil,gte=0,lte=2"`
	MaxTokens    int      `yaml:"max_tokens" validate:"gte=0"`
	SystemPrompt *string  `yaml:"system_prompt"`
}

// AppConfig identifies the client to providers that ask for it.
type AppConfig struct {
	Title   string `yaml:"title"`
	Referer string `yaml:"referer"`
}

// ServerConfig configures the browser bridge.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// CostConfig configures cost display.
type CostConfig struct {
	DecimalPlaces *int `yaml:"decimal_places" validate:"omitnil,gte=0,lte=12"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML file and returns a Config with defaults applied.
// Environment variables referenced as ${VAR} or $VAR are expanded before
// parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()

	return cfg, nil
}

// Validate checks field ranges. Provider and model ids are checked against
// the catalog by New.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("engine: config: %w", err)
	}
	return nil
}

// Params returns the initial session parameters.
func (c Config) Params() Params {
	p := Params{
		Temperature:  DefaultTemperature,
		MaxTokens:    c.Defaults.MaxTokens,
		SystemPrompt: DefaultSystemPrompt,
	}

	if c.Defaults.Temperature != nil {
		p.Temperature = *c.Defaults.Temperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if c.Defaults.SystemPrompt != nil {
		p.SystemPrompt = *c.Defaults.SystemPrompt
	}

	return p
}

// DecimalPlaces returns the configured cost display precision.
func (c Config) DecimalPlaces() int {
	if c.Cost.DecimalPlaces == nil {
		return DefaultDecimalPlaces
	}
	return *c.Cost.DecimalPlaces
}

func (c *Config) applyDefaults() {
	if c.App.Title == "" {
		c.App.Title = DefaultAppTitle
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
