// Package logging wraps github.com/rs/zerolog behind the key-value call
// convention the teacher's own client config uses at every call site
// (cfg.logger.Log(level, msg, "k", v, "k2", v2, ...)), so the rest of the
// tree never imports zerolog directly.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's LogLevel enum.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is the structured logger threaded through every package
// constructor.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing to w (os.Stderr in production, a
// bytes.Buffer in tests) at the given minimum level.
func New(w io.Writer, min Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.SetGlobalLevel(toZerolog(min))
	return &Logger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Log writes msg at level with an alternating key/value tail, e.g.
// Log(LevelWarn, "segment truncated", "partition", pid, "offset", off).
func (l *Logger) Log(level Level, msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = l.z.Debug()
	case LevelInfo:
		ev = l.z.Info()
	case LevelWarn:
		ev = l.z.Warn()
	default:
		ev = l.z.Error()
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

// With returns a child Logger that always attaches key=value.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}
