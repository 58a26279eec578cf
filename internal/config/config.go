package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Store        StoreConfig        `mapstructure:"store"`
	Redis        RedisConfig        `mapstructure:"redis"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	MDNS         MDNSConfig         `mapstructure:"mdns"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Worker       WorkerConfig       `mapstructure:"worker"`
}

type AppConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type SchedulerConfig struct {
	TimeInterval     time.Duration `mapstructure:"time_interval"`
	StateInterval    time.Duration `mapstructure:"state_interval"`
	Timezone         string        `mapstructure:"timezone"`
	AutoDisableAfter int           `mapstructure:"auto_disable_after"`
}

type ExecutorConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConversationConfig selects where sessions live: "memory" or "redis"
type ConversationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Backend string        `mapstructure:"backend"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type MDNSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LocalName string `mapstructure:"local_name"`
}

type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// setting binds a config key to its environment variable and default
type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"app.port", "HTTP_PORT", 8080},
	{"app.log_level", "LOG_LEVEL", "info"},
	{"store.driver", "STORE_DRIVER", "postgres"},
	{"store.url", "DB_URL", ""},
	{"store.sqlite_path", "SQLITE_PATH", "homeassist.db"},
	{"redis.addr", "REDIS_ADDR", "localhost:6379"},
	{"mqtt.broker", "MQTT_BROKER", "tcp://localhost:1883"},
	{"mqtt.client_id", "MQTT_CLIENT_ID", "homeassist-engine"},
	{"jwt.secret", "JWT_SECRET", ""},
	{"scheduler.time_interval", "SCHEDULER_TIME_INTERVAL", 30 * time.Second},
	{"scheduler.state_interval", "SCHEDULER_STATE_INTERVAL", 60 * time.Second},
	{"scheduler.timezone", "SCHEDULER_TIMEZONE", "Local"},
	{"scheduler.auto_disable_after", "SCHEDULER_AUTO_DISABLE_AFTER", 0},
	{"executor.timeout", "EXECUTOR_TIMEOUT", 30 * time.Second},
	{"conversation.timeout", "CONVERSATION_TIMEOUT", 10 * time.Minute},
	{"conversation.backend", "CONVERSATION_BACKEND", "memory"},
	{"openai.api_key", "OPENAI_API_KEY", ""},
	{"openai.base_url", "OPENAI_BASE_URL", ""},
	{"openai.model", "OPENAI_MODEL", ""},
	{"mdns.enabled", "MDNS_ENABLED", false},
	{"mdns.local_name", "MDNS_LOCAL_NAME", "homeassist"},
	{"telemetry.endpoint", "OTEL_ENDPOINT", ""},
	{"telemetry.insecure", "OTEL_INSECURE", true},
	{"rate_limit.rps", "RATE_LIMIT_RPS", 20.0},
	{"rate_limit.burst", "RATE_LIMIT_BURST", 40},
	{"worker.concurrency", "WORKER_CONCURRENCY", 2},
}

// LoadConfig reads configuration from config.yaml in dir, .env, and env vars.
// Environment variables win over the file.
func LoadConfig(dir string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, err
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.URL == "" {
			return errors.New("config: DB_URL is required for the postgres store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Conversation.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown conversation backend %q", c.Conversation.Backend)
	}

	if c.Scheduler.TimeInterval < time.Second || c.Scheduler.StateInterval < time.Second {
		return errors.New("config: scheduler intervals must be at least 1s")
	}
	// time triggers match to the minute; a longer cycle would miss some
	if c.Scheduler.TimeInterval >= time.Minute {
		return errors.New("config: SCHEDULER_TIME_INTERVAL must be below 1m")
	}
	if c.Scheduler.AutoDisableAfter < 0 {
		return errors.New("config: SCHEDULER_AUTO_DISABLE_AFTER must not be negative")
	}
	if c.Executor.Timeout <= 0 || c.Conversation.Timeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the scheduler timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}
