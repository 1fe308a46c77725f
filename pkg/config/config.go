package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by the server and the client binaries.
type Config struct {
	Listen    string          `yaml:"listen"`
	Database  Database        `yaml:"database"`
	CORS      CORSConfig      `yaml:"cors"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Log       LogConfig       `yaml:"log"`
	Client    ClientConfig    `yaml:"client"`
}

// Database holds the store connection parameters.
type Database struct {
	// Driver is either "sqlite" or "postgres".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`
	// Timezone is the offset timestamps are stored in, e.g. "-03:00".
	Timezone string `yaml:"timezone"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RealtimeConfig struct {
	Path         string        `yaml:"path"`
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type BroadcastConfig struct {
	QueueSize int `yaml:"queue_size"`
	// Resync is a cron spec for periodic snapshot republishing. Empty disables it.
	Resync string `yaml:"resync"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClientConfig configures the request client and the sync layer.
type ClientConfig struct {
	APIURL            string        `yaml:"api_url"`
	WebsocketURL      string        `yaml:"websocket_url"`
	Timeout           time.Duration `yaml:"timeout"`
	Retries           int           `yaml:"retries"`
	Backoff           time.Duration `yaml:"backoff"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Listen: "0.0.0.0:3000",
		Database: Database{
			Driver:   "sqlite",
			Host:     "localhost",
			Port:     5432,
			Username: "postgres",
			Password: "postgres",
			Database: "chronos",
			SSLMode:  "disable",
			Path:     "chronos.sqlite3",
			Timezone: "+00:00",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Realtime: RealtimeConfig{
			Path:         "/events/data",
			SendBuffer:   16,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Broadcast: BroadcastConfig{
			QueueSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Client: ClientConfig{
			APIURL:            "http://localhost:3000",
			WebsocketURL:      "ws://localhost:3000/events/data",
			Timeout:           15 * time.Second,
			Retries:           3,
			Backoff:           time.Second,
			ReconnectAttempts: 5,
			ReconnectDelay:    5 * time.Second,
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Info("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.ParseEnv()
	cfg.Normalize()
	if _, err := cfg.Database.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills zero values left by partial files.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.Timezone == "" {
		c.Database.Timezone = def.Database.Timezone
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Realtime.Path == "" {
		c.Realtime.Path = def.Realtime.Path
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = def.Realtime.SendBuffer
	}
	if c.Realtime.WriteTimeout <= 0 {
		c.Realtime.WriteTimeout = def.Realtime.WriteTimeout
	}
	if c.Realtime.PingInterval <= 0 {
		c.Realtime.PingInterval = def.Realtime.PingInterval
	}
	if c.Broadcast.QueueSize <= 0 {
		c.Broadcast.QueueSize = def.Broadcast.QueueSize
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Client.Timeout <= 0 {
		c.Client.Timeout = def.Client.Timeout
	}
	if c.Client.Retries < 0 {
		c.Client.Retries = def.Client.Retries
	}
	if c.Client.Backoff <= 0 {
		c.Client.Backoff = def.Client.Backoff
	}
	if c.Client.ReconnectAttempts <= 0 {
		c.Client.ReconnectAttempts = def.Client.ReconnectAttempts
	}
	if c.Client.ReconnectDelay <= 0 {
		c.Client.ReconnectDelay = def.Client.ReconnectDelay
	}
}

// ParseEnv overrides values from environment variables.
func (c *Config) ParseEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("CHRONOS_LISTEN", &c.Listen)
	setString("DB_DRIVER", &c.Database.Driver)
	setString("DB_HOST", &c.Database.Host)
	setString("DB_USERNAME", &c.Database.Username)
	setString("DB_PASSWORD", &c.Database.Password)
	setString("DB_DATABASE", &c.Database.Database)
	setString("DB_SSLMODE", &c.Database.SSLMode)
	setString("DB_PATH", &c.Database.Path)
	setString("DB_TIMEZONE", &c.Database.Timezone)
	setString("API_URL", &c.Client.APIURL)
	setString("WEBSOCKET_URL", &c.Client.WebsocketURL)
	setString("TELEGRAM_TOKEN", &c.Telegram.Token)
	setString("BROADCAST_RESYNC", &c.Broadcast.Resync)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Database.Port = p
		} else {
			slog.Error("invalid DB_PORT", "value", port, "err", err)
		}
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			c.Telegram.ChatID = id
		} else {
			slog.Error("invalid TELEGRAM_CHAT_ID", "value", chat, "err", err)
		}
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		var out []string
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
		c.CORS.AllowedOrigins = out
	}
}

// DSN builds the postgres connection string.
func (d Database) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.Username +
		" password=" + d.Password +
		" dbname=" + d.Database +
		" sslmode=" + d.SSLMode
}

// Location parses Timezone as a fixed "+HH:MM" / "-HH:MM" offset.
func (d Database) Location() (*time.Location, error) {
	tz := d.Timezone
	if tz == "" || tz == "Z" || strings.EqualFold(tz, "utc") {
		return time.UTC, nil
	}
	t, err := time.Parse("-07:00", tz)
	if err != nil {
		return nil, fmt.Errorf("invalid database timezone %q: expected +HH:MM", tz)
	}
	_, offset := t.Zone()
	if offset == 0 {
		return time.UTC, nil
	}
	return time.FixedZone(tz, offset), nil
}

// SlogLevel maps the configured level to slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler returns the slog handler selected by Format.
func (l LogConfig) Handler() slog.Handler {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}
