// Package config loads application configuration from environment variables.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "forge.db"
	defaultPoolSize       = 2
	defaultQueueMax       = 64
	defaultOpTimeout      = 5 * time.Second
	defaultHealthInterval = 30 * time.Second
	defaultCancelTimeout  = 2 * time.Second

	envListenAddr     = "FORGE_LISTEN_ADDR"
	envDBPath         = "FORGE_DB_PATH"
	envLogLevel       = "FORGE_LOG_LEVEL"
	envPoolSize       = "FORGE_POOL_SIZE"
	envQueueMax       = "FORGE_QUEUE_MAX"
	envOpTimeout      = "FORGE_OP_TIMEOUT_MS"
	envHealthInterval = "FORGE_HEALTH_INTERVAL_MS"
	envCancelTimeout  = "FORGE_CANCEL_TIMEOUT_MS"
	envWorkerBin      = "FORGE_WORKER_BIN"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	PoolSize       int
	QueueMax       int
	OpTimeout      time.Duration
	HealthInterval time.Duration
	CancelTimeout  time.Duration

	// WorkerBin, when set, makes the server launch worker subprocesses
	// running this binary instead of in-process workers.
	WorkerBin string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		PoolSize:       defaultPoolSize,
		QueueMax:       defaultQueueMax,
		OpTimeout:      defaultOpTimeout,
		HealthInterval: defaultHealthInterval,
		CancelTimeout:  defaultCancelTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if n, ok := parsePositiveInt(os.Getenv(envPoolSize)); ok {
		cfg.PoolSize = n
	}
	if n, ok := parsePositiveInt(os.Getenv(envQueueMax)); ok {
		cfg.QueueMax = n
	}
	if d, ok := parseMillis(os.Getenv(envOpTimeout)); ok {
		cfg.OpTimeout = d
	}
	if d, ok := parseMillis(os.Getenv(envHealthInterval)); ok {
		cfg.HealthInterval = d
	}
	if d, ok := parseMillis(os.Getenv(envCancelTimeout)); ok {
		cfg.CancelTimeout = d
	}
	cfg.WorkerBin = os.Getenv(envWorkerBin)

	return cfg
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

func parsePositiveInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseMillis(s string) (time.Duration, bool) {
	n, ok := parsePositiveInt(s)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
