package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/portfolio-master/pkg/constants"
)

// WithLogger binds a logger to ctx. Both *logrus.Entry and *logrus.Logger are accepted by UseLogger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger bound to ctx, or nil if there is none.
func UseLogger(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	switch typed := ctx.Value(constants.LoggerKey).(type) {
	case *logrus.Entry:
		return typed
	case *logrus.Logger:
		return logrus.NewEntry(typed)
	default:
		return nil
	}
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, requestID)
}

func UseRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(constants.RequestIDKey).(string)
	return id, ok && id != ""
}
