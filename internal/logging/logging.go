// Package logging provides the package-level diagnostic logger shared by
// every component. It defaults to a text-formatted logrus logger writing to
// stderr, but may be swapped by SetLogger so tests (and the admin HTTP
// surface) can redirect or capture output.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var std = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Log returns the shared logger. Components should call Log().WithField(...)
// rather than holding their own logger instance, so SetLogger/SetOutput take
// effect everywhere immediately.
func Log() *logrus.Logger {
	return std
}

// SetLogger replaces the shared logger wholesale. Passing nil restores the
// default stderr text logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		std = newDefault()
		return
	}
	std = l
}

// SetOutput redirects the shared logger's output without touching its
// level or formatter. Tests use this to capture log lines into a buffer.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// WithComponent returns an entry tagged with the given component name, the
// convention every package in this repo uses for its own log lines, e.g.
// logging.WithComponent("journal").Warn("...").
func WithComponent(name string) *logrus.Entry {
	return std.WithField("component", name)
}
