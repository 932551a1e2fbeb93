package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultEnvFiles are overlaid by LoadEnv when no files are named. Later
// files win.
var DefaultEnvFiles = []string{".env", ".env.dev"}

// LoadEnv overlays the given env files, or DefaultEnvFiles, onto the process
// environment and returns the files it read. Missing files are skipped.
func LoadEnv(logger *logrus.Logger, files ...string) []string {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	var loaded []string
	for _, file := range files {
		err := godotenv.Overload(file)
		switch {
		case err == nil:
			loaded = append(loaded, file)
		case errors.Is(err, fs.ErrNotExist):
		default:
			logger.WithError(err).WithField("file", file).Warn("Failed to load env file")
		}
	}
	logger.WithField("files", loaded).Debug("Env files loaded")
	return loaded
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// GetLogLevel gets the log level from environment
func GetLogLevel() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
