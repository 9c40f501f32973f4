// Package logging configures the process-wide logrus logger: JSON to a
// size-rotated file in live mode, text to stderr otherwise. Packages obtain
// component loggers via logrus.WithField("component", ...).
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger setup.
type Options struct {
	Level      string // trace, debug, info, warn, error
	File       string // empty keeps stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool // also mirror to stderr when a file is set
}

// Setup applies the options to the global logrus logger.
func Setup(o Options) error {
	level, err := logrus.ParseLevel(o.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if o.File == "" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetOutput(os.Stderr)
		return nil
	}

	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 100
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 5
	}
	rotated := &lumberjack.Logger{
		Filename:   o.File,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
		Compress:   true,
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if o.Console {
		logrus.SetOutput(io.MultiWriter(os.Stderr, rotated))
	} else {
		logrus.SetOutput(rotated)
	}
	return nil
}
