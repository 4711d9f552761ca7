package control

import (
	"io"
	"log"
)

var (
	opsLogger   *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the logging streams of the control package.
// ops carries link failures, overruns and lifecycle events; trace carries
// per-tick fusion detail. Pass nil for a writer to disable that stream.
func SetLogWriters(ops, trace io.Writer) {
	opsLogger = newLogger("[control] ", ops)
	traceLogger = newLogger("[control] ", trace)
}

// SetDebugLogger routes both streams to a single writer.
func SetDebugLogger(w io.Writer) {
	SetLogWriters(w, w)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
