// Package diag provides the CPU trace logging used by internal/emu when
// Config.Trace is set, in the same plain log.Logger idiom cmd/gbemu and
// cmd/cpurunner use for their own startup/status messages.
package diag

import (
	"io"
	"log"
	"os"
)

// Logger gates CPU instruction tracing behind an Enabled flag so callers can
// leave the log.Printf call in place on the hot path without paying for
// formatting when tracing is off.
type Logger struct {
	Enabled bool
	l       *log.Logger
}

// New returns a Logger writing to os.Stderr with no prefix or timestamp,
// matching the plain log.Printf output the teacher's cmd mains already use.
func New(enabled bool) *Logger {
	return &Logger{Enabled: enabled, l: log.New(os.Stderr, "", 0)}
}

// NewTo returns a Logger writing to an arbitrary sink, for tests that want to
// capture trace output instead of polluting stderr.
func NewTo(w io.Writer, enabled bool) *Logger {
	return &Logger{Enabled: enabled, l: log.New(w, "", 0)}
}

// Tracef logs a formatted CPU-step trace line if tracing is enabled.
func (d *Logger) Tracef(format string, args ...any) {
	if d == nil || !d.Enabled {
		return
	}
	d.l.Printf(format, args...)
}
