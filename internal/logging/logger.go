// Package logging constructs the zap logger shared across the session
// server's components.
package logging

import "go.uber.org/zap"

// New builds a production zap logger, or a development logger when debug is
// requested. Panics on misconfiguration, matching the teacher's own
// fail-fast logger bootstrap.
func New(debug bool) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger.Sugar()
}
