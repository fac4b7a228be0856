// Package atllog provides the structured logger shared by every library
// context, built on logrus the way the rest of the retrieved pack wires
// up logging (one *logrus.Logger constructed at startup, level chosen
// from config, fields attached per call site rather than per logger).
package atllog

import "github.com/sirupsen/logrus"

// New builds a logger whose level is derived from the `debug` config
// value: 0 disables debug output entirely (Info and above), 1 enables
// Debug, 2 and above enables Trace — the Go mapping of the axl_debug
// verbosity levels from the original C implementation.
func New(debugLevel int) *logrus.Logger {
	l := logrus.New()
	switch {
	case debugLevel <= 0:
		l.SetLevel(logrus.InfoLevel)
	case debugLevel == 1:
		l.SetLevel(logrus.DebugLevel)
	default:
		l.SetLevel(logrus.TraceLevel)
	}
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// WithHandle returns a logger entry tagged with a handle ID, the
// attribution every per-handle log line in the registry and backends
// carries.
func WithHandle(l *logrus.Logger, id int64) *logrus.Entry {
	return l.WithField("handle", id)
}
