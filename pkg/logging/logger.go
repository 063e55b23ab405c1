package logging

import (
	"bytes"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

// Logger wraps log.Logger from charmbracelet/log. Logging must never fail the
// ingestion pipeline, so no method here returns an error.
type Logger struct {
	*log.Logger
	buffer *bytes.Buffer
}

var (
	logger *Logger
	once   sync.Once
)

// CreateLogger sets up the process-wide logger. Safe to call more than once.
func CreateLogger() {
	once.Do(func() {
		baseLogger := log.New(os.Stderr)

		if os.Getenv("DEBUG") == "1" {
			baseLogger = log.NewWithOptions(os.Stderr, log.Options{
				ReportCaller:    true,
				ReportTimestamp: true,
				Prefix:          "meshvault",
			})
			baseLogger.SetLevel(log.DebugLevel)
		} else {
			baseLogger.SetLevel(log.InfoLevel)
		}

		logger = &Logger{Logger: baseLogger}
	})
}

// GetLogger returns the process-wide Logger instance.
func GetLogger() *Logger {
	ensureInitialized()
	return logger
}

// NewTestLogger returns a logger that records output in an in-memory buffer so
// tests can assert on emitted lines.
func NewTestLogger() *Logger {
	buf := new(bytes.Buffer)
	baseLogger := log.NewWithOptions(buf, log.Options{Level: log.DebugLevel})
	return &Logger{Logger: baseLogger, buffer: buf}
}

// GetOutput returns everything written to a test logger's buffer.
func (l *Logger) GetOutput() string {
	if l.buffer == nil {
		return ""
	}
	return l.buffer.String()
}

// BaseLogger returns the underlying *log.Logger.
func (l *Logger) BaseLogger() *log.Logger {
	return l.Logger
}

func ensureInitialized() {
	if logger == nil {
		CreateLogger()
	}
}
