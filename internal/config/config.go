// Package config loads server configuration from environment variables and
// flags, and constructs the process logger.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envListenAddr           = "QUIC_RTC_LISTEN_ADDR"
	envAllowedOrigins       = "QUIC_RTC_ALLOWED_ORIGINS"
	envLogFormat            = "QUIC_RTC_LOG_FORMAT"
	envLogLevel             = "QUIC_RTC_LOG_LEVEL"
	envShutdownTimeout      = "QUIC_RTC_SHUTDOWN_TIMEOUT"
	envMaxMessageBytes      = "QUIC_RTC_MAX_MESSAGE_BYTES"
	envMaxMessagesPerSecond = "QUIC_RTC_MAX_MESSAGES_PER_SECOND"
	envSendQueueSize        = "QUIC_RTC_SEND_QUEUE_SIZE"
	envPingInterval         = "QUIC_RTC_PING_INTERVAL"
	envPongWait             = "QUIC_RTC_PONG_WAIT"
)

const (
	defaultListenAddr           = ":8080"
	defaultLogFormat            = "text"
	defaultLogLevel             = "info"
	defaultShutdownTimeout      = 15 * time.Second
	defaultMaxMessageBytes      = 64 << 10 // enough for SDP payloads
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueSize        = 64
	defaultPingInterval         = 30 * time.Second
	defaultPongWait             = 75 * time.Second
)

type Config struct {
	ListenAddr string
	// AllowedOrigins restricts browser origins for HTTP CORS and the
	// WebSocket upgrade. Empty means any origin is accepted.
	AllowedOrigins []string

	LogFormat string // "text" or "json"
	LogLevel  string // "debug", "info", "warn", "error"

	ShutdownTimeout time.Duration

	// Per-connection signaling limits.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
	PingInterval         time.Duration
	PongWait             time.Duration
}

// Load builds the configuration from the environment, then applies flag
// overrides from args.
func Load(args []string) (Config, error) {
	cfg := Config{
		ListenAddr:           envOr(envListenAddr, defaultListenAddr),
		AllowedOrigins:       envCSV(envAllowedOrigins),
		LogFormat:            envOr(envLogFormat, defaultLogFormat),
		LogLevel:             envOr(envLogLevel, defaultLogLevel),
		ShutdownTimeout:      defaultShutdownTimeout,
		MaxMessageBytes:      defaultMaxMessageBytes,
		MaxMessagesPerSecond: defaultMaxMessagesPerSecond,
		SendQueueSize:        defaultSendQueueSize,
		PingInterval:         defaultPingInterval,
		PongWait:             defaultPongWait,
	}

	var err error
	if cfg.ShutdownTimeout, err = envDuration(envShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageBytes, err = envInt64(envMaxMessageBytes, cfg.MaxMessageBytes); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond, err = envInt(envMaxMessagesPerSecond, cfg.MaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.SendQueueSize, err = envInt(envSendQueueSize, cfg.SendQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.PingInterval, err = envDuration(envPingInterval, cfg.PingInterval); err != nil {
		return Config{}, err
	}
	if cfg.PongWait, err = envDuration(envPongWait, cfg.PongWait); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("quic-rtc-server", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid log format %q", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("config: %s must be positive", envMaxMessageBytes)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("config: %s must be positive", envSendQueueSize)
	}
	if c.PingInterval > 0 && c.PongWait <= c.PingInterval {
		return fmt.Errorf("config: %s must exceed %s", envPongWait, envPingInterval)
	}
	return nil
}

// NewLogger constructs the process slog.Logger per the configured format
// and level.
func NewLogger(c Config) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch c.LogFormat {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: invalid log level %q", s)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return i, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return i, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return d, nil
}
