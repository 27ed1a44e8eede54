// Package logger provides a global logger for the application
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// EnvironmentLevel maps ENVIRONMENT to its default log level.
func EnvironmentLevel(environment string) zerolog.Level {
	switch strings.ToLower(environment) {
	case "dev", "test":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init sets up the global zerolog logger with console output on w.
// A non-empty level ("trace", "debug", "info", ...) overrides the environment default.
// Example usage:
//
//	logger.Init(os.Stderr, cfg.Environment, cmd.String("log-level")) <- inside main()
func Init(w io.Writer, environment, level string) {
	if environment == "" {
		environment = os.Getenv("ENVIRONMENT")
	}
	if environment == "" {
		environment = "prod"
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w}).With().Caller().Logger()

	logLevel := EnvironmentLevel(environment)
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			log.Warn().Str("level", level).Msg("Unknown log level - keeping environment default")
		} else {
			logLevel = parsed
		}
	}

	// Apply the log level globally
	zerolog.SetGlobalLevel(logLevel)
	log.Info().Str("environment", environment).Str("level", logLevel.String()).Msg("Logging initialised")
}
