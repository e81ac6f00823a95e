// Package log configures logrus output for dualsync.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFormatter returns the formatter used by every entry: JSON when asked,
// otherwise full-timestamp text with stable field ordering.
func NewFormatter(jsonFormat bool) logrus.Formatter {
	if jsonFormat {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
		SortingFunc:     sortFields,
	}
}

// sortFields keeps time, level and msg first and orders the remaining keys alphabetically
func sortFields(keys []string) {
	rank := func(k string) int {
		switch k {
		case logrus.FieldKeyTime:
			return 0
		case logrus.FieldKeyLevel:
			return 1
		case logrus.FieldKeyMsg:
			return 2
		}
		return 3
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
}

// FileConfig describes the optional rotating log file
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Output returns the writer entries go to: stderr, plus a rotating file when a path is set
func (c FileConfig) Output() (io.Writer, error) {
	if c.Path == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    max(c.MaxSizeMB, 1),
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
	}
	return io.MultiWriter(os.Stderr, file), nil
}

// Setup applies level, formatter and output to the standard logger
func Setup(level string, jsonFormat bool, file FileConfig) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	out, err := file.Output()
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(NewFormatter(jsonFormat))
	logrus.SetOutput(out)
	return nil
}
