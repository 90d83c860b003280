package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string       `mapstructure:"port"`
	Environment    string       `mapstructure:"environment"`
	AllowedOrigins []string     `mapstructure:"allowed_origins"`
	JWTSecret      string       `mapstructure:"jwt_secret"`
	LogLevel       string       `mapstructure:"log_level"`
	StoreDriver    string       `mapstructure:"store_driver"`
	Redis          RedisConfig  `mapstructure:"redis"`
	NATS           NATSConfig   `mapstructure:"nats"`
	Lobby          LobbyConfig  `mapstructure:"lobby"`
	Fanout         FanoutConfig `mapstructure:"fanout"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	RoomTTL  time.Duration `mapstructure:"room_ttl"`
	// MaxRetries bounds optimistic transaction retries per room update.
	MaxRetries int `mapstructure:"max_retries"`
	// WatchInterval is how often an idle room stream checks that its room
	// has not expired.
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// NATSConfig is optional; an empty URL disables lifecycle event publishing.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type LobbyConfig struct {
	CodeAttempts      int `mapstructure:"code_attempts"`
	DefaultMinPlayers int `mapstructure:"default_min_players"`
	DefaultMaxPlayers int `mapstructure:"default_max_players"`
}

type FanoutConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// env maps the flat environment variable names onto nested config keys.
var env = map[string]string{
	"port":                      "PORT",
	"environment":               "ENVIRONMENT",
	"allowed_origins":           "ALLOWED_ORIGINS",
	"jwt_secret":                "JWT_SECRET",
	"log_level":                 "LOG_LEVEL",
	"store_driver":              "STORE_DRIVER",
	"redis.host":                "REDIS_HOST",
	"redis.port":                "REDIS_PORT",
	"redis.password":            "REDIS_PASSWORD",
	"redis.db":                  "REDIS_DB",
	"redis.room_ttl":            "ROOM_TTL",
	"redis.max_retries":         "REDIS_MAX_RETRIES",
	"redis.watch_interval":      "REDIS_WATCH_INTERVAL",
	"nats.url":                  "NATS_URL",
	"nats.subject_prefix":       "NATS_SUBJECT_PREFIX",
	"nats.max_reconnects":       "NATS_MAX_RECONNECTS",
	"nats.reconnect_wait":       "NATS_RECONNECT_WAIT",
	"lobby.code_attempts":       "CODE_ATTEMPTS",
	"lobby.default_min_players": "DEFAULT_MIN_PLAYERS",
	"lobby.default_max_players": "DEFAULT_MAX_PLAYERS",
	"fanout.subscriber_buffer":  "SUBSCRIBER_BUFFER",
}

// Load reads configuration from the environment, optionally layered over a
// YAML file named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", "change-me-in-production")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", "redis")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.room_ttl", "24h")
	v.SetDefault("redis.max_retries", 16)
	v.SetDefault("redis.watch_interval", "10s")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "lobby.rooms")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("lobby.code_attempts", 5)
	v.SetDefault("lobby.default_min_players", 5)
	v.SetDefault("lobby.default_max_players", 10)
	v.SetDefault("fanout.subscriber_buffer", 16)

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("bind CONFIG_FILE: %w", err)
	}
	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Comma-separated when it comes from the environment, a list in YAML
	if raw, ok := v.Get("allowed_origins").(string); ok {
		cfg.AllowedOrigins = splitOrigins(raw)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.StoreDriver != "redis" && c.StoreDriver != "memory" {
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.Lobby.CodeAttempts < 1 {
		return fmt.Errorf("code attempts must be positive, got %d", c.Lobby.CodeAttempts)
	}
	if c.Lobby.DefaultMinPlayers < 1 || c.Lobby.DefaultMinPlayers > c.Lobby.DefaultMaxPlayers {
		return fmt.Errorf("invalid default capacity %d..%d", c.Lobby.DefaultMinPlayers, c.Lobby.DefaultMaxPlayers)
	}
	if c.Redis.WatchInterval <= 0 {
		return fmt.Errorf("redis watch interval must be positive, got %s", c.Redis.WatchInterval)
	}
	if c.Fanout.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber buffer must be positive, got %d", c.Fanout.SubscriberBuffer)
	}
	return nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
