// Package log gives both engines a structured logging interface: a
// fixed event code plus key/value fields, in place of ad hoc printf
// debug statements scattered through mount/read/write paths. It is a
// thin wrapper over github.com/sirupsen/logrus, keeping the same
// event-plus-attributes call shape a trace(event string, attrs ...)
// helper would have, but backed by a real structured logger.
package log

import "github.com/sirupsen/logrus"

// Logger wraps a *logrus.Logger; engines hold one and call Event to get
// a pre-populated entry for a fixed event code. The engines' Mount
// functions replace a nil *Logger with Discard().
type Logger struct {
	l *logrus.Logger
}

// New wraps l. If l is nil, the returned Logger discards everything.
func New(l *logrus.Logger) *Logger {
	if l == nil {
		l = logrus.New()
		l.SetLevel(logrus.PanicLevel + 1) // effectively disabled
	}
	return &Logger{l: l}
}

// Discard returns a Logger that drops all events, used as the default
// when a mount call is not given one.
func Discard() *Logger { return New(nil) }

// Event returns a logrus.Entry tagged with the fixed event code, ready
// for .WithField/.WithFields and a terminal .Debug/.Info/.Warn/.Error
// call.
func (lg *Logger) Event(code string) *logrus.Entry {
	return lg.l.WithField("event", code)
}
