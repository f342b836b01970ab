// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	defaultQuantum   = 100 * time.Millisecond
	defaultLogFormat = FormatText

	envLogLevel   = "PROGFLOW_LOG_LEVEL"
	envLogFormat  = "PROGFLOW_LOG_FORMAT"
	envQuantum    = "PROGFLOW_QUANTUM"
	envTraceDB    = "PROGFLOW_TRACE_DB"
	envListenAddr = "PROGFLOW_LISTEN_ADDR"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds application configuration loaded from environment variables.
// Command-line flags override it.
type Config struct {
	LogLevel  slog.Level
	LogFormat string
	// Quantum is the scheduler's time slice per pass. Zero disables
	// adaptive step sizes.
	Quantum time.Duration
	// TraceDB is the SQLite trace database path; empty disables tracing.
	TraceDB string
	// ListenAddr is the status server address; empty disables the server.
	ListenAddr string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:  slog.LevelInfo,
		LogFormat: defaultLogFormat,
		Quantum:   defaultQuantum,
	}

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		f, err := ParseFormat(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envLogFormat, err)
		}
		cfg.LogFormat = f
	}
	if v := os.Getenv(envQuantum); v != "" {
		d, err := ParseQuantum(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envQuantum, err)
		}
		cfg.Quantum = d
	}
	cfg.TraceDB = os.Getenv(envTraceDB)
	cfg.ListenAddr = os.Getenv(envListenAddr)

	return cfg, nil
}

// ParseQuantum parses a non-negative duration.
func ParseQuantum(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("quantum %s is negative", s)
	}
	return d, nil
}

// ParseFormat validates a log format name.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(s); f {
	case FormatText, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown log format %q (want text or json)", s)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w in the given format.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
