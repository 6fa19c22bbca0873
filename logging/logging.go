// Package logging configures the structured loggers used across the
// partition runtime, adapted from the teacher's common.OutputSplitter /
// common.NewLogger pattern.
package logging

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"partitiond/version"
)

// OutputSplitter routes error-level log lines to stderr and everything else
// to stdout, so container log collectors can treat the two streams
// differently.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Config selects level and format for a logger built by New.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // text|json
}

// Base is a package-level logger at info level with text output. cli and
// main build their own loggers with New and do not use it.
var Base = New(Config{Level: "info", Format: "text"})

// New builds a logrus.Logger configured per cfg, output routed through
// OutputSplitter.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(OutputSplitter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	return logger
}

// Component returns a logger entry tagged with a "component" field and the
// running module's build version, matching the teacher's coordinator.New
// convention of stamping every entry with its EVE version
// (common/logger.go's NewLogger calling version.GetEVEVersion()).
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": name,
		"version":   version.GetModuleVersion(),
	})
}

// Timed logs operation's start and completion (with duration and error, if
// any) around fn, mirroring common.LogOperation.
func Timed(logger *logrus.Entry, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	entry := logger.WithFields(logrus.Fields{
		"operation":   operation,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Info("operation completed")
	return nil
}
