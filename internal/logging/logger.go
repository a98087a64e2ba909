// Package logging provides per-component logrus loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	base = newBase()
)

// Environment overrides.
const (
	EnvLevel  = "FSENSOR_LOG_LEVEL"
	EnvFormat = "FSENSOR_LOG_FORMAT"
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	configure(l, os.Getenv(EnvLevel), os.Getenv(EnvFormat))
	return l
}

func configure(l *logrus.Logger, level, format string) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			DisableColors: !tty,
		})
	}
}

// NewLogger returns the logger for a component. Loggers are created once per
// component and share one output.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if entry, ok := loggers[component]; ok {
		return entry
	}
	entry := base.WithField("component", component)
	loggers[component] = entry
	return entry
}

// Configure applies a level and format, e.g. from flags or the config file.
// Environment variables take precedence.
func Configure(level, format string) {
	if v := os.Getenv(EnvLevel); v != "" {
		level = v
	}
	if v := os.Getenv(EnvFormat); v != "" {
		format = v
	}
	configure(base, level, format)
}

// SetOutput redirects all component loggers.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}
