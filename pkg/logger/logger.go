// Package logger implements the github.com/go-logr/logr interfaces on top of
// zerolog (github.com/rs/zerolog), so library packages can log through the
// same structured sink as the embedding application.
package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/rs/zerolog"
)

// logr verbosity mapping: V(0) logs at info, V(1..7) at debug and V(8+) at
// trace, matching the zerolog console levels.
const (
	debugVerbosity = 1
	traceVerbosity = 8
	timeFormat     = "2006-01-02 15:04:05.000"
)

// Options can be passed to NewWithOptions.
type Options struct {
	// Name is an optional name prefix for every event.
	Name string
	// Level is the minimum console level, one of trace, debug, info, warn
	// or error. Defaults to info.
	Level string
	// Logger is an existing zerolog instance to wrap; when nil a console
	// logger writing to stderr is created.
	Logger *zerolog.Logger
}

// New returns a console logr.Logger at the given level.
func New(level string) logr.Logger {
	return NewWithOptions(Options{Level: level})
}

// NewWithOptions returns a logr.Logger implemented by zerolog.
func NewWithOptions(opts Options) logr.Logger {
	zl := opts.Logger
	if zl == nil {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: timeFormat}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("[%-5s]", i))
		}
		l := zerolog.New(output).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
		zl = &l
	}
	return logSink{zl: zl, name: opts.Name}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type logSink struct {
	zl        *zerolog.Logger
	verbosity int
	name      string
	values    []interface{}
}

func (l logSink) Enabled() bool {
	return l.event() != nil
}

func (l logSink) event() *zerolog.Event {
	switch {
	case l.verbosity < debugVerbosity:
		return l.zl.Info()
	case l.verbosity < traceVerbosity:
		return l.zl.Debug()
	default:
		return l.zl.Trace()
	}
}

func (l logSink) Info(msg string, keysAndValues ...interface{}) {
	e := l.event()
	if e == nil {
		return
	}
	l.decorate(e)
	addFields(e, keysAndValues)
	e.Msg(msg)
}

func (l logSink) Error(err error, msg string, keysAndValues ...interface{}) {
	e := l.zl.Error().Err(err)
	l.decorate(e)
	addFields(e, keysAndValues)
	e.Msg(msg)
}

func (l logSink) V(verbosity int) logr.Logger {
	out := l.clone()
	out.verbosity += verbosity
	return out
}

func (l logSink) WithName(name string) logr.Logger {
	out := l.clone()
	if out.name != "" {
		out.name += "/"
	}
	out.name += name
	return out
}

func (l logSink) WithValues(keysAndValues ...interface{}) logr.Logger {
	out := l.clone()
	out.values = append(out.values, keysAndValues...)
	return out
}

func (l logSink) clone() logSink {
	out := l
	out.values = make([]interface{}, len(l.values))
	copy(out.values, l.values)
	return out
}

func (l logSink) decorate(e *zerolog.Event) {
	if l.name != "" {
		e.Str("name", l.name)
	}
	addFields(e, l.values)
}

// addFields converts logr key-value pairs into zerolog fields.
func addFields(e *zerolog.Event, keysAndValues []interface{}) {
	if len(keysAndValues)%2 != 0 {
		e.Interface("args", keysAndValues).
			AnErr("logr-err", errors.New("odd number of arguments passed as key-value pairs"))
		return
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			e.Interface("invalid-key", keysAndValues[i]).
				AnErr("logr-err", errors.New("non-string key argument passed, dropping later arguments"))
			return
		}
		e.Interface(key, keysAndValues[i+1])
	}
}
