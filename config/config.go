// Package config loads the server configuration from flags with environment
// fallbacks.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures the server level configuration.
type Config struct {
	Port          int
	DBPath        string
	LogLevel      slog.Level
	LogFormat     string        // json or text
	RulesInterval time.Duration // 0 disables the periodic rule re-application
	CORSOrigins   []string
}

// Load parses args (os.Args[1:] in main). Flags win over environment
// variables, which win over defaults:
//
//	-port            MAG_PORT            8080
//	-db              MAG_DB              policies.db
//	-log-level       MAG_LOG_LEVEL       info
//	-log-format      MAG_LOG_FORMAT      json
//	-rules-interval  MAG_RULES_INTERVAL  0 (disabled)
//	-cors-origins    MAG_CORS_ORIGINS    * (comma separated)
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	port := fs.Int("port", getEnvIntOrDefault("MAG_PORT", 8080), "HTTP server port")
	dbPath := fs.String("db", getEnvOrDefault("MAG_DB", "policies.db"), "SQLite database path (\":memory:\" for in-memory)")
	level := fs.String("log-level", getEnvOrDefault("MAG_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	format := fs.String("log-format", getEnvOrDefault("MAG_LOG_FORMAT", "json"), "log format: json or text")
	interval := fs.String("rules-interval", getEnvOrDefault("MAG_RULES_INTERVAL", "0"), "period of the rules re-application, e.g. 1h (0 disables)")
	origins := fs.String("cors-origins", getEnvOrDefault("MAG_CORS_ORIGINS", "*"), "allowed CORS origins, comma separated")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("invalid flags: %w", err)
	}

	cfg := Config{
		Port:        *port,
		DBPath:      *dbPath,
		LogFormat:   strings.ToLower(*format),
		CORSOrigins: splitList(*origins),
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.DBPath == "" {
		return Config{}, fmt.Errorf("database path is required")
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*level)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", *level, err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("invalid log format %q", *format)
	}

	d, err := parseInterval(*interval)
	if err != nil {
		return Config{}, err
	}
	cfg.RulesInterval = d
	return cfg, nil
}

// NewLogger builds the process logger on w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseInterval(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid rules interval %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid rules interval %q: negative", s)
	}
	return d, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
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
