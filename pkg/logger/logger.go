package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type contextKey string

const requestIDKey contextKey = "request_id"

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(level)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// SetLevel overrides the global log level.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// WithRequestId returns a context carrying the given request id, which
// Logger attaches to every entry derived from that context.
func WithRequestId(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Logger returns a logrus entry scoped to the given context.
func Logger(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(base)
	if ctx == nil {
		return entry
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}
