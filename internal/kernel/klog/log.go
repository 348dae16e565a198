// Package klog provides the kernel's shared structured logger.
//
// Every subsystem logs through this package rather than the stdlib "log"
// package, so operators get one consistent, leveled, module-prefixed
// stream regardless of which subsystem emits it.
package klog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutput redirects the kernel logger, mainly for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetLevel adjusts the minimum emitted level ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// Module returns a logger that tags every entry with a "module" field set
// to name (a structured field, not a prefix in the message text).
func Module(name string) *Logger {
	return &Logger{entry: base.WithField("module", name)}
}

// Logger is a module-scoped handle onto the shared kernel logger.
type Logger struct {
	entry *logrus.Entry
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
