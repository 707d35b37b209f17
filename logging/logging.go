package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type HasLogger interface {
	Log() *zerolog.Logger
}

// Logging carries a logger decorated with a fixed context, usually the
// module name. It starts as a no-op logger until SetLogger is called.
type Logging struct {
	l    zerolog.Logger
	orig zerolog.Logger
	f    func(zerolog.Context) zerolog.Context
}

func NewLogging(f func(zerolog.Context) zerolog.Context) *Logging {
	nop := zerolog.Nop()
	return &Logging{
		l:    nop,
		orig: nop,
		f:    f,
	}
}

// NewModuleLogging is the common case of NewLogging: a module field.
func NewModuleLogging(module string) *Logging {
	return NewLogging(func(c zerolog.Context) zerolog.Context {
		return c.Str("module", module)
	})
}

func (lg *Logging) Log() *zerolog.Logger {
	return &lg.l
}

func (lg *Logging) SetLogger(l zerolog.Logger) *Logging {
	lg.orig = l
	if lg.f != nil {
		lg.l = lg.f(lg.orig.With()).Logger()
	} else {
		lg.l = l
	}

	return lg
}

func (lg *Logging) SetLogging(l *Logging) *Logging {
	return lg.SetLogger(l.orig)
}

func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Setup builds the root logger. format is "json" or "console".
func Setup(level, format string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	if strings.ToLower(format) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().Timestamp().
		Logger()
}
