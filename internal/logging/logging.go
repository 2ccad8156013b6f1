// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures logger construction.
type Options struct {
	Level      string // logrus level name; invalid values fall back to info
	Verbose    bool   // forces debug level
	JSONFormat bool   // JSON output for log shippers; text with timestamps otherwise
	Output     io.Writer
}

// New builds a configured logrus logger.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()

	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	if opts.JSONFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level := logrus.InfoLevel
	if parsed, err := logrus.ParseLevel(opts.Level); err == nil {
		level = parsed
	}
	if opts.Verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}
