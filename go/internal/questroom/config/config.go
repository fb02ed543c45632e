package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the shared configuration of the relay server and the watch client.
// Values come from defaults, then the optional YAML file, then the environment.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Relay    RelayConfig    `yaml:"relay"`
	Client   ClientConfig   `yaml:"client"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
}

type RelayConfig struct {
	Addr             string        `yaml:"addr"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	VerifyMembership bool          `yaml:"verify_membership"`
	ListenChannel    string        `yaml:"listen_channel"`
	PollWait         time.Duration `yaml:"poll_wait"`
	PollIdleTimeout  time.Duration `yaml:"poll_idle_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

type ClientConfig struct {
	ServerURL       string        `yaml:"server_url"`
	APIURL          string        `yaml:"api_url"`
	UserID          string        `yaml:"user_id"`
	RoomID          string        `yaml:"room_id"`
	Transports      []string      `yaml:"transports"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel: "info",
		Relay: RelayConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			ListenChannel:   "room_events",
			PollWait:        25 * time.Second,
			PollIdleTimeout: 60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Client: ClientConfig{
			ServerURL:       "ws://localhost:8080",
			APIURL:          "http://localhost:8000/api",
			Transports:      []string{"websocket", "polling"},
			SnapshotTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "questroom",
			SSLMode:  "disable",
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Stream: "ROOM_EVENTS",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only defaults and
// the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if cfg.Relay.VerifyMembership && !cfg.Database.Enabled {
		return nil, fmt.Errorf("relay.verify_membership requires database.enabled")
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Relay.Addr = getEnv("RELAY_ADDR", c.Relay.Addr)
	c.Relay.AllowedOrigins = getEnvAsList("RELAY_ALLOWED_ORIGINS", c.Relay.AllowedOrigins)
	c.Relay.VerifyMembership = getEnvAsBool("RELAY_VERIFY_MEMBERSHIP", c.Relay.VerifyMembership)
	c.Relay.ListenChannel = getEnv("RELAY_LISTEN_CHANNEL", c.Relay.ListenChannel)
	c.Relay.PollWait = getEnvAsDuration("RELAY_POLL_WAIT", c.Relay.PollWait)

	c.Client.ServerURL = getEnv("SERVER_URL", c.Client.ServerURL)
	c.Client.APIURL = getEnv("API_URL", c.Client.APIURL)
	c.Client.UserID = getEnv("USER_ID", c.Client.UserID)
	c.Client.RoomID = getEnv("ROOM_ID", c.Client.RoomID)
	c.Client.Transports = getEnvAsList("CLIENT_TRANSPORTS", c.Client.Transports)

	c.Database.Enabled = getEnvAsBool("DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.NATS.Enabled = getEnvAsBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
