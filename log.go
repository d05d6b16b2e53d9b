// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqljson

import (
	"os"

	"github.com/sirupsen/logrus"
)

// logger is the package-level logger. All statement generation and cache
// activity is reported through it at debug level, engine failures at error
// level.
var logger logrus.FieldLogger = defaultLogger()

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetLogger replaces the package-level logger, e.g. to route output into an
// application-wide logrus instance.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

// GetLogger returns the package-level logger.
func GetLogger() logrus.FieldLogger {
	return logger
}
