package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConsoleLogger writes JSON lines to stdout.
func ConsoleLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger
}

// FileLogger writes to both stdout and a rotated log file at logPath. The
// returned closer flushes the file.
func FileLogger(level logrus.Level, logPath string) (io.Closer, *logrus.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, err
	}
	file := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
	}
	logger := ConsoleLogger(level)
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return file, logger, nil
}
