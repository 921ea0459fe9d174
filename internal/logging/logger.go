// Package logging builds the logrus logger shared by bricktracker components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/LdDl/brick-tracker/internal/config"
	"github.com/sirupsen/logrus"
)

// New creates logger with formatter, level and output taken from configuration
func New(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(output(cfg.Output))
	log.SetLevel(parseLevel(cfg.Level))
	switch strings.ToLower(cfg.Format) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// Component returns entry tagged with component name
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Default is used before configuration is loaded
func Default() *logrus.Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	})
}

func output(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stdout":
		return os.Stdout
	default:
		// stdout carries frame results in the CLI
		return os.Stderr
	}
}

// parseLevel falls back to info on unknown names
func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
