package log

import (
	"fmt"
	"io"

	kitlog "github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"
	"github.com/go-kit/log/term"
)

const (
	msgKey    = "_msg" // "_" prefixed to avoid collisions
	moduleKey = "module"
)

type kitLogger struct {
	srcLogger kitlog.Logger
}

// Interface assertions
var _ Logger = (*kitLogger)(nil)

// NewLogger returns a logger that encodes msg and keyvals to the Writer
// using go-kit's log as an underlying logger and our custom formatter. Note
// that underlying logger could be swapped with something else.
func NewLogger(w io.Writer) Logger {
	// Color by level value
	colorFn := func(keyvals ...interface{}) term.FgBgColor {
		if len(keyvals) < 2 || keyvals[0] != kitlevel.Key() {
			return term.FgBgColor{}
		}
		switch fmt.Sprint(keyvals[1]) {
		case "debug":
			return term.FgBgColor{Fg: term.DarkGray}
		case "error":
			return term.FgBgColor{Fg: term.Red}
		default:
			return term.FgBgColor{}
		}
	}

	return &kitLogger{term.NewLogger(w, NewFmtLogger, colorFn)}
}

// NewLoggerWithColorFn allows you to provide your own color function. See
// NewLogger for documentation.
func NewLoggerWithColorFn(w io.Writer, colorFn func(keyvals ...interface{}) term.FgBgColor) Logger {
	return &kitLogger{term.NewLogger(w, NewFmtLogger, colorFn)}
}

// NewLoggerNoColor returns a logfmt-style logger which never emits terminal
// color codes, for output that is not a terminal.
func NewLoggerNoColor(w io.Writer) Logger {
	return &kitLogger{NewFmtLogger(w)}
}

// Info logs a message at level Info.
func (l *kitLogger) Info(msg string, keyvals ...interface{}) {
	lWithLevel := kitlevel.Info(l.srcLogger)

	if err := kitlog.With(lWithLevel, msgKey, msg).Log(keyvals...); err != nil {
		errLogger := kitlevel.Error(l.srcLogger)
		kitlog.With(errLogger, msgKey, msg).Log("err", err) //nolint:errcheck // no need to check error again
	}
}

// Debug logs a message at level Debug.
func (l *kitLogger) Debug(msg string, keyvals ...interface{}) {
	lWithLevel := kitlevel.Debug(l.srcLogger)

	if err := kitlog.With(lWithLevel, msgKey, msg).Log(keyvals...); err != nil {
		errLogger := kitlevel.Error(l.srcLogger)
		kitlog.With(errLogger, msgKey, msg).Log("err", err) //nolint:errcheck // no need to check error again
	}
}

// Error logs a message at level Error.
func (l *kitLogger) Error(msg string, keyvals ...interface{}) {
	lWithLevel := kitlevel.Error(l.srcLogger)

	lWithMsg := kitlog.With(lWithLevel, msgKey, msg)
	if err := lWithMsg.Log(keyvals...); err != nil {
		lWithMsg.Log("err", err) //nolint:errcheck // no need to check error again
	}
}

// With returns a new contextual logger with keyvals prepended to those passed
// to calls to Info, Debug or Error.
func (l *kitLogger) With(keyvals ...interface{}) Logger {
	return &kitLogger{kitlog.With(l.srcLogger, keyvals...)}
}
