package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with service-level context fields attached.
type Logger struct {
	zerolog.Logger
}

// Config controls logger construction.
type Config struct {
	Level       string // trace|debug|info|warn|error; defaults to info
	Environment string // pretty console output unless "production"
	ServiceName string
	Version     string
}

// New creates a logger configured for the service environment.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Environment != "production" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	logger = logger.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: logger}
}
