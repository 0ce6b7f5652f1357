// Package log configures the process-wide logrus logger.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Zerofisher/hcisnoop/internal/config"
)

// Init configures logrus.StandardLogger from cfg and returns it.
// Diagnostics go to stderr so stdout stays reserved for command output.
func Init(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.StandardLogger()
	if err := Configure(logger, cfg, os.Stderr); err != nil {
		return nil, err
	}
	return logger, nil
}

// Configure applies cfg to logger, writing to out plus the optional log file.
func Configure(logger *logrus.Logger, cfg config.LogConfig, out io.Writer) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	writers := []io.Writer{out}
	if cfg.File.Path != "" {
		writers = append(writers, createFileWriter(cfg.File))
	}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: true,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	logger.SetLevel(level)
	logger.SetOutput(io.MultiWriter(writers...))
	return nil
}

func parseLevel(levelStr string) (logrus.Level, error) {
	if levelStr == "" {
		return logrus.WarnLevel, nil
	}
	return logrus.ParseLevel(strings.ToLower(levelStr))
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.LogFileConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}
}
