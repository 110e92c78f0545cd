package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the pairing plane.
type Config struct {
	Port      int             `toml:"port"`
	Version   string          `toml:"version"`
	Log       LogConfig       `toml:"log"`
	Store     StoreConfig     `toml:"store"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Retention RetentionConfig `toml:"retention"`
	WebSocket WebSocketConfig `toml:"websocket"`
	CORS      CORSConfig      `toml:"cors"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Events    EventsConfig    `toml:"events"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// StoreConfig selects the registry backend.
type StoreConfig struct {
	Driver         string `toml:"driver"` // memory | postgres
	DataDir        string `toml:"data_dir"`
	DatabaseURL    string `toml:"database_url"`
	MaxConnections int    `toml:"max_connections"`
}

type HeartbeatConfig struct {
	StaleAfter     time.Duration `toml:"stale_after"`
	ReaperInterval time.Duration `toml:"reaper_interval"`
}

type RetentionConfig struct {
	// PairTTL is how long terminated pairs are kept. Zero keeps them forever.
	PairTTL         time.Duration `toml:"pair_ttl"`
	Interval        time.Duration `toml:"interval"`
	ArchiveDir      string        `toml:"archive_dir"`
	ArchiveCompress bool          `toml:"archive_compress"`
}

type WebSocketConfig struct {
	ReadLimit    int64         `toml:"read_limit"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// EventsConfig configures the external event mirror. Empty URLs disable
// the corresponding sink.
type EventsConfig struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
	WebhookURL    string `toml:"webhook_url"`
	WebhookSecret string `toml:"webhook_secret"`
	QueueSize     int    `toml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:    8000,
		Version: "0.1.0",
		Log:     LogConfig{Level: "info"},
		Store: StoreConfig{
			Driver:         "memory",
			MaxConnections: 10,
		},
		Heartbeat: HeartbeatConfig{
			StaleAfter:     90 * time.Second,
			ReaperInterval: 30 * time.Second,
		},
		Retention: RetentionConfig{
			Interval: 10 * time.Minute,
		},
		WebSocket: WebSocketConfig{
			ReadLimit:    1024,
			WriteTimeout: 10 * time.Second,
		},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "pairing-plane",
		},
		Events: EventsConfig{
			SubjectPrefix: "pairing",
			QueueSize:     256,
		},
	}
}

// Load builds the configuration from defaults, then the TOML file named
// by PAIRING_CONFIG (if any), then environment variables. Environment wins.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PAIRING_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PAIRING_PORT", c.Port)
	c.Version = envStr("PAIRING_VERSION", c.Version)

	c.Log.Level = envStr("PAIRING_LOG_LEVEL", c.Log.Level)
	c.Log.JSON = envBool("PAIRING_LOG_JSON", c.Log.JSON)

	c.Store.Driver = envStr("PAIRING_STORE", c.Store.Driver)
	c.Store.DataDir = envStr("PAIRING_DATA_DIR", c.Store.DataDir)
	c.Store.DatabaseURL = envStr("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.MaxConnections = envInt("DATABASE_MAX_CONNECTIONS", c.Store.MaxConnections)

	c.Heartbeat.StaleAfter = envDuration("PAIRING_HEARTBEAT_STALE_AFTER", c.Heartbeat.StaleAfter)
	c.Heartbeat.ReaperInterval = envDuration("PAIRING_REAPER_INTERVAL", c.Heartbeat.ReaperInterval)

	c.Retention.PairTTL = envDuration("PAIRING_PAIR_RETENTION", c.Retention.PairTTL)
	c.Retention.Interval = envDuration("PAIRING_RETENTION_INTERVAL", c.Retention.Interval)
	c.Retention.ArchiveDir = envStr("PAIRING_ARCHIVE_DIR", c.Retention.ArchiveDir)
	c.Retention.ArchiveCompress = envBool("PAIRING_ARCHIVE_COMPRESS", c.Retention.ArchiveCompress)

	c.WebSocket.ReadLimit = int64(envInt("PAIRING_WS_READ_LIMIT", int(c.WebSocket.ReadLimit)))
	c.WebSocket.WriteTimeout = envDuration("PAIRING_WS_WRITE_TIMEOUT", c.WebSocket.WriteTimeout)

	if v := os.Getenv("PAIRING_CORS_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitList(v)
	}

	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)

	c.Events.NATSURL = envStr("PAIRING_NATS_URL", c.Events.NATSURL)
	c.Events.SubjectPrefix = envStr("PAIRING_NATS_SUBJECT_PREFIX", c.Events.SubjectPrefix)
	c.Events.WebhookURL = envStr("PAIRING_WEBHOOK_URL", c.Events.WebhookURL)
	c.Events.WebhookSecret = envStr("PAIRING_WEBHOOK_SECRET", c.Events.WebhookSecret)
	c.Events.QueueSize = envInt("PAIRING_EVENT_QUEUE_SIZE", c.Events.QueueSize)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store driver postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want memory or postgres)", c.Store.Driver)
	}
	if c.Heartbeat.StaleAfter <= 0 || c.Heartbeat.ReaperInterval <= 0 {
		return fmt.Errorf("heartbeat intervals must be positive")
	}
	if c.Retention.PairTTL < 0 {
		return fmt.Errorf("pair retention cannot be negative")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
