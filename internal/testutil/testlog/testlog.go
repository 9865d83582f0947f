package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// Start routes the global zerolog level to debug and tags the test name.
func Start(t *testing.T) {
	t.Helper()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	l := Logger(t)
	l.Info().Str("test", t.Name()).Msg("start")
}

// Logger writes through t.Log so output only shows for failing or -v runs.
func Logger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
