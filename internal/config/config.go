package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Provider    string                    `mapstructure:"provider"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Chat        ChatConfig                `mapstructure:"chat"`
	Tools       ToolsConfig               `mapstructure:"tools"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Log         LogConfig                 `mapstructure:"log"`
}

type BasicConfig struct {
	ServerAddress string `mapstructure:"server_address"`
	MinWorkers    int    `mapstructure:"min_workers"`
	MaxWorkers    int    `mapstructure:"max_workers"`
	QueueSize     int    `mapstructure:"queue_size"`
	// WorkerIdleTimeout is in minutes, TurnTimeout in seconds.
	WorkerIdleTimeout int `mapstructure:"worker_idle_timeout"`
	TurnTimeout       int `mapstructure:"turn_timeout"`
}

type ProviderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

type ChatConfig struct {
	SystemPrompt  string `mapstructure:"system_prompt"`
	MaxFollowUps  int    `mapstructure:"max_follow_ups"`
	MaxRecoveries int    `mapstructure:"max_recoveries"`
	// Dispatch is "on_complete" or "eager".
	Dispatch string `mapstructure:"dispatch"`
}

type ToolsConfig struct {
	Weather   bool            `mapstructure:"weather"`
	WebSearch WebSearchConfig `mapstructure:"web_search"`
}

type WebSearchConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	GoogleAPIKey         string `mapstructure:"google_api_key"`
	GoogleSearchEngineID string `mapstructure:"google_search_engine_id"`
	RateLimit            int    `mapstructure:"rate_limit"`
	// RateWindow is in seconds.
	RateWindow int `mapstructure:"rate_window"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

const envPrefix = "FUNCHAT"

var providerKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.min_workers", 2)
	v.SetDefault("basic_config.max_workers", 8)
	v.SetDefault("basic_config.queue_size", 64)
	v.SetDefault("basic_config.worker_idle_timeout", 5)
	v.SetDefault("basic_config.turn_timeout", 120)

	v.SetDefault("provider", "openai")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("providers.openai.api_key", "")

	v.SetDefault("chat.system_prompt", "")
	v.SetDefault("chat.max_follow_ups", 1)
	v.SetDefault("chat.max_recoveries", 1)
	v.SetDefault("chat.dispatch", "on_complete")

	v.SetDefault("tools.weather", true)
	v.SetDefault("tools.web_search.enabled", false)
	v.SetDefault("tools.web_search.google_api_key", "")
	v.SetDefault("tools.web_search.google_search_engine_id", "")
	v.SetDefault("tools.web_search.rate_limit", 5)
	v.SetDefault("tools.web_search.rate_window", 60)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads configuration from path, FUNCHAT_CONFIG, or config.json, in
// that order. A missing file yields the defaults. FUNCHAT_* variables
// override file values, e.g. FUNCHAT_CHAT_MAX_FOLLOW_UPS.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path == "" {
		path = "config.json"
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	b := c.BasicConfig
	if b.MinWorkers < 1 {
		return fmt.Errorf("basic_config.min_workers must be at least 1")
	}
	if b.MaxWorkers < b.MinWorkers {
		return fmt.Errorf("basic_config.max_workers must be >= min_workers")
	}
	if b.QueueSize < 1 {
		return fmt.Errorf("basic_config.queue_size must be at least 1")
	}
	if c.Chat.MaxFollowUps < 0 || c.Chat.MaxRecoveries < 0 {
		return fmt.Errorf("chat budgets must not be negative")
	}
	switch c.Chat.Dispatch {
	case "on_complete", "eager":
	default:
		return fmt.Errorf("chat.dispatch must be on_complete or eager, got %q", c.Chat.Dispatch)
	}
	if _, ok := c.Providers[c.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", c.Provider)
	}
	return nil
}

// ActiveProvider returns the selected provider with its API key resolved.
func (c *Config) ActiveProvider() (string, ProviderConfig) {
	p := c.Providers[c.Provider]
	if p.APIKey == "" {
		if env, ok := providerKeyEnv[c.Provider]; ok {
			p.APIKey = os.Getenv(env)
		}
	}
	return c.Provider, p
}

func (b BasicConfig) IdleTimeout() time.Duration {
	return time.Duration(b.WorkerIdleTimeout) * time.Minute
}

func (b BasicConfig) TurnTimeoutDuration() time.Duration {
	return time.Duration(b.TurnTimeout) * time.Second
}

func (w WebSearchConfig) Window() time.Duration {
	return time.Duration(w.RateWindow) * time.Second
}
