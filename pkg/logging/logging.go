// SPDX-License-Identifier: Apache-2.0
// Package logging configures the module-wide logrus logger. Every
// subsystem obtains its logger via DefaultLogger().WithField(logfields.Component, ...)
// rather than instantiating its own, so log level/format/output settings
// apply uniformly — the same pattern cilium-cilium/pkg/logging establishes
// for the rest of that codebase.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var defaultLogger = logrus.New()

func init() {
	defaultLogger.SetOutput(os.Stderr)
	defaultLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	defaultLogger.SetLevel(logrus.InfoLevel)
}

// DefaultLogger returns the module-wide logrus logger.
func DefaultLogger() *logrus.Logger {
	return defaultLogger
}

// SetLevel adjusts the module-wide log level, e.g. from a CLI --log-level flag.
func SetLevel(level logrus.Level) {
	defaultLogger.SetLevel(level)
}

// SetJSON switches the logger to JSON output, for machine-consumed deployments.
func SetJSON(enabled bool) {
	if enabled {
		defaultLogger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		defaultLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
