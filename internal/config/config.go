package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "MOODLOG"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "moodlog.db"
	defaultLogLevel       = "info"
	defaultTokenTTL       = 30
	defaultBcryptCost     = 12
	defaultTimezone       = "UTC"
	defaultLLMProvider    = ProviderOpenAI
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultLLMTimeout     = 30
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported text generation providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderDisabled  = "disabled"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	LogLevel       string
	LogFile        string
	SigningSecret  string
	TokenTTL       time.Duration
	BcryptCost     int
	Location       *time.Location
	LLM            LLMConfig
}

// LLMConfig describes the external text generation backend.
type LLMConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("calendar.timezone", defaultTimezone)
	configViper.SetDefault("llm.provider", defaultLLMProvider)
	configViper.SetDefault("llm.api_key", "")
	configViper.SetDefault("llm.base_url", "")
	configViper.SetDefault("llm.model", "")
	configViper.SetDefault("llm.timeout_seconds", defaultLLMTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	timezone := strings.TrimSpace(configViper.GetString("calendar.timezone"))
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("calendar.timezone %q is invalid: %w", timezone, err)
	}

	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		LogFile:        configViper.GetString("log.file"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		BcryptCost:     configViper.GetInt("auth.bcrypt_cost"),
		Location:       location,
		LLM: LLMConfig{
			Provider: strings.ToLower(strings.TrimSpace(configViper.GetString("llm.provider"))),
			APIKey:   configViper.GetString("llm.api_key"),
			BaseURL:  configViper.GetString("llm.base_url"),
			Model:    configViper.GetString("llm.model"),
			Timeout:  time.Duration(configViper.GetInt("llm.timeout_seconds")) * time.Second,
		},
	}

	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = defaultModel(cfg.LLM.Provider)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderDisabled:
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be positive")
	}
	return nil
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return defaultAnthropicModel
	case ProviderOpenAI:
		return defaultOpenAIModel
	default:
		return ""
	}
}
