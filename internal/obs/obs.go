// Package obs wires up structured logging with rs/zerolog, used directly
// rather than through a generic chain-builder, in the pattern the broader
// retrieved pack's logging wrappers (joeycumines-go-utilpkg/logiface-zerolog)
// also build on top of.
package obs

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds a console-pretty logger at the named level (zerolog's
// own level strings: "debug", "info", "warn", "error"), tagged with this
// process's partition rank so multi-partition runs can be told apart in a
// merged log stream.
func NewLogger(level string, rank uint32, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).
		Level(lvl).
		With().
		Timestamp().
		Uint32("rank", rank).
		Logger()
}

// Tick returns a per-tick child logger, used by the engine to tag every
// log line emitted while processing tick "now".
func Tick(log zerolog.Logger, now uint32) zerolog.Logger {
	return log.With().Uint32("tick", now).Logger()
}
