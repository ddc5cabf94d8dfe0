package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/composables"
)

func (m *Master) loggerFromContext(ctx context.Context) *logrus.Entry {
	if logger := composables.UseLogger(ctx); logger != nil {
		return logger
	}
	if m.opts.Logger != nil {
		return logrus.NewEntry(m.opts.Logger)
	}
	return nil
}

func (m *Master) logWithFields(ctx context.Context, level logrus.Level, msg string, fields logrus.Fields) {
	logger := m.loggerFromContext(ctx)
	if logger == nil {
		return
	}
	if requestID, ok := composables.UseRequestID(ctx); ok {
		fields["request_id"] = requestID
	}
	logger.WithFields(fields).Log(level, msg)
}

// logOutcome logs a finished operation: rejections at warn, storage failures at
// error, successes at debug.
func (m *Master) logOutcome(ctx context.Context, entity, operation string, err error, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["entity"] = entity
	fields["operation"] = operation
	if err == nil {
		m.logWithFields(ctx, logrus.DebugLevel, entity+"."+operation+".committed", fields)
		return
	}
	fields["error"] = err.Error()
	var be *bitemporal.Error
	if errors.As(err, &be) {
		fields["code"] = be.Code
		fields["status"] = be.Status
	}
	switch outcomeOf(err) {
	case "validation", "not_found", "conflict", "illegal_state":
		m.logWithFields(ctx, logrus.WarnLevel, entity+"."+operation+".rejected", fields)
	default:
		m.logWithFields(ctx, logrus.ErrorLevel, entity+"."+operation+".failed", fields)
	}
}
