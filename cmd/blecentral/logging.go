package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/config"
)

// configureLogger creates a logger for a command run.
// Precedence: --log-level, then --verbose, then the config file level when
// one was loaded; otherwise logging stays silent.
func configureLogger(cmd *cobra.Command, verboseFlagName string, fileLevel *logrus.Level) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool(verboseFlagName)
	switch {
	case logLevelStr != "":
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	case verbose:
		logLevel = logrus.DebugLevel
	case fileLevel != nil:
		logLevel = *fileLevel
	}

	logger := (&config.Config{LogLevel: logLevel}).NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	return logger, nil
}
