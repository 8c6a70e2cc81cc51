package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the console logger shared by every binary. An empty level picks
// debug outside production and info in production.
func New(environment string, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, environment, level)
}

func NewWithWriter(out io.Writer, environment string, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    environment == "production",
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("env", environment).
		Logger()

	zerolog.SetGlobalLevel(parseLevel(environment, level))

	return logger
}

func parseLevel(environment string, level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	if environment != "production" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
