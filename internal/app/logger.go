package app

import (
	"os"

	"privpool-backend/internal/config"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(logger).WithField("service", "privpool")
}
