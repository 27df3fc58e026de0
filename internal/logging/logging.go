// Package logging configures the process logger: leveled, structured, and
// optionally rotated to disk.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables log rotation to disk.
type FileConfig struct {
	// Path is the log file location; empty disables file output.
	Path string `yaml:"path"`
	// MaxSizeMB rotates the file once it grows past this size.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups bounds how many rotated files are kept.
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays bounds how long rotated files are kept.
	MaxAgeDays int `yaml:"max_age_days"`
	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// Config tunes the logger.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `yaml:"level"`
	// Format selects json or text output.
	Format string `yaml:"format"`
	// File enables rotated file output alongside stderr.
	File FileConfig `yaml:"file"`
}

// New builds a configured logger. Unknown levels fall back to info.
func New(cfg Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	if cfg.File.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    max(cfg.File.MaxSizeMB, 1),
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
			LocalTime:  false,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	} else {
		log.SetOutput(os.Stderr)
	}

	return log
}

// WithComponent tags a logger for one subsystem.
func WithComponent(log logrus.FieldLogger, component string) logrus.FieldLogger {
	return log.WithField("component", component)
}
