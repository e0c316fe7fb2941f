package utils

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global logger for CLI use. Logs go to stderr so
// they never interleave with the live download display on stdout.
func InitLogger(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}).With().Timestamp().Logger()
}

// GetLogger returns a logger tagged with the owning component via the "op"
// field every qget log line carries.
func GetLogger(op string) zerolog.Logger {
	return log.With().Str("op", op).Logger()
}
