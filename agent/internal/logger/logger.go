package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// L writes to stderr by default so progress lines and diagnostics land in the
// job capture without mixing into the result block on stdout.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger()

func Init(path, level string) error {
	var w io.Writer = os.Stderr
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w = io.MultiWriter(os.Stderr, file)
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	L = zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(lvl).With().Timestamp().Logger()
	return nil
}

func Errorf(f string, v ...interface{}) { L.Error().Msgf(f, v...) }
