// Package logging provides the structured logging used across the engine.
// Output routes error-level records to stderr and everything else to
// stdout, which keeps container log collectors able to split streams
// without parsing log bodies.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus-formatted records to stdout or stderr
// based on level, without needing logrus hooks per stream.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Config selects the logger's format and verbosity.
type Config struct {
	Service string
	Version string
	Level   logrus.Level
	JSON    bool
}

// DefaultConfig returns an info-level, text-formatted configuration.
func DefaultConfig(service string) Config {
	return Config{
		Service: service,
		Level:   logrus.InfoLevel,
	}
}

// New builds a logger entry carrying the service/version fields that
// every engine component's log lines should include.
func New(cfg Config) *logrus.Entry {
	base := logrus.New()
	base.SetOutput(OutputSplitter{})
	base.SetLevel(cfg.Level)
	if cfg.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	entry := base.WithFields(logrus.Fields{
		"service": cfg.Service,
	})
	if cfg.Version != "" {
		entry = entry.WithField("version", cfg.Version)
	}
	return entry
}

// Discard returns an entry that drops everything; useful as a safe
// default for components constructed without an injected logger.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
