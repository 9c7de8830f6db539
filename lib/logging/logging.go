package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Config struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatConsole,
	}
}

// Init configures the global zerolog logger, which is also returned by log.Ctx for contexts without a logger.
func Init(config Config) error {
	return InitWriter(config, os.Stderr)
}

// InitWriter is like Init, but writes log output to w.
func InitWriter(config Config, w io.Writer) error {
	level := zerolog.InfoLevel
	if config.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(strings.ToLower(config.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
	}
	var output io.Writer
	switch config.Format {
	case "", FormatConsole:
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case FormatJSON:
		output = w
	default:
		return fmt.Errorf("invalid log format %q (expected %s or %s)", config.Format, FormatConsole, FormatJSON)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}
