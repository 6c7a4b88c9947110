package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Environment variables to configure the log destination and level.
const (
	envLogPath  = "SW_CACHE_LOG"
	envLogLevel = "SW_CACHE_LOG_LEVEL"
)

// Fields is an alias so callers don't need to import logrus.
type Fields = logrus.Fields

var (
	mu      sync.Mutex
	std     = newDefault()
	logFile *os.File
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// InitFromEnv initializes the logger using SW_CACHE_LOG and SW_CACHE_LOG_LEVEL.
// An empty path keeps logging on stderr.
func InitFromEnv() error {
	return Init(os.Getenv(envLogPath), os.Getenv(envLogLevel))
}

// Init points the logger at path (stderr when empty) and sets its level.
// It creates parent directories if needed and opens the file in append mode.
func Init(path, level string) error {
	mu.Lock()
	defer mu.Unlock()
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		std.SetLevel(lvl)
	}
	if path == "" {
		return nil
	}
	if err := ensureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	std.SetOutput(f)
	return nil
}

// Close closes the underlying log file, if open, and falls back to stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		std.SetOutput(os.Stderr)
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// WithFields returns an entry carrying structured fields.
func WithFields(f Fields) *logrus.Entry { return std.WithFields(f) }

// Debugf logs verbose diagnostics.
func Debugf(format string, args ...any) { std.Debugf(format, args...) }

// Infof logs informational messages.
func Infof(format string, args ...any) { std.Infof(format, args...) }

// Warnf logs warnings.
func Warnf(format string, args ...any) { std.Warnf(format, args...) }

// Errorf logs errors.
func Errorf(format string, args ...any) { std.Errorf(format, args...) }

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
