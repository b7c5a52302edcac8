package app

import (
	"os"

	"github.com/rs/zerolog"
)

// newLogger builds the process logger. Timestamps carry microsecond
// resolution so queue and release events can be read against frame
// departure times.
func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().
		Level(zerolog.InfoLevel)

	if val, ok := os.LookupEnv("LOG_LEVEL"); ok {
		lvl, err := zerolog.ParseLevel(val)
		if err != nil {
			logger.Warn().Str("value", val).
				Msg("unknown LOG_LEVEL, keeping info")
		} else {
			logger = logger.Level(lvl)
		}
	}
	return logger
}
