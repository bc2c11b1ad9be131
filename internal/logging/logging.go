// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"strings"

	logrus "github.com/sirupsen/logrus"
)

func init() {
	// Library code stays silent until a caller opts in
	logrus.SetOutput(io.Discard)
}

// ParseLevel maps a settings level (trace, debug, info, warn, off) to logrus.
// The second result is false when logging is disabled.
func ParseLevel(level string) (logrus.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel, true
	case "debug":
		return logrus.DebugLevel, true
	case "info":
		return logrus.InfoLevel, true
	case "warn", "warning":
		return logrus.WarnLevel, true
	case "error":
		return logrus.ErrorLevel, true
	case "", "off", "none":
		return logrus.PanicLevel, false
	default:
		return logrus.DebugLevel, true
	}
}

// Configure directs logrus to w at the given level. Level "off" discards all
// output.
func Configure(level string, w io.Writer) {
	lvl, enabled := ParseLevel(level)
	if !enabled || w == nil {
		logrus.SetOutput(io.Discard)
		return
	}
	logrus.SetOutput(w)
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Discard returns an entry that drops everything. Library packages use it
// until a caller hands them a logger.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Component returns a logger entry tagged with a component name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
