// Package logger configures the process-wide zerolog logger and hands out
// per-component child loggers.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/config"
)

// NewLogger installs the global logger. Unknown level names fall back to
// info rather than failing startup.
func NewLogger(cfg config.LoggerConfig) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(out).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	return log.Logger
}

func parseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// GetLogger returns a child of the global logger tagged with the
// component name.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
