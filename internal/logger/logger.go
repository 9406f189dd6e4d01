package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger. The pipeline runs under a scheduler that
// captures stdout, so production config writing JSON to stdout is enough;
// rotation stays outside the process.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
