package core

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger intended to be used for general application logs.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	var w io.Writer = os.Stdout

	if logFile := cfg.Logging.LogFilePath; logFile != "" {
		f, err := os.OpenFile(cfg.QualifiedPath(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", logFile, err)
		}
		w = f
	}

	return newLogger(w, cfg.Logging.LogLevel)
}

func newLogger(w io.Writer, level string) (*logrus.Logger, error) {
	logLvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	return &logrus.Logger{
		Out: w,
		Formatter: &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableSorting:  true,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logLvl,
	}, nil
}

// NewConsoleLogger returns a logger writing to stderr, used by the interactive
// client so that diagnostics don't interleave with command output.
func NewConsoleLogger(level string) (*logrus.Logger, error) {
	return newLogger(os.Stderr, level)
}

// DiscardLogger returns a logger that drops everything written to it.
func DiscardLogger() *logrus.Logger {
	return &logrus.Logger{
		Out:       io.Discard,
		Formatter: &logrus.TextFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.PanicLevel,
	}
}
