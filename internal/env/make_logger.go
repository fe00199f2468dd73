package env

import (
	zap "go.uber.org/zap"
)

// MakeLogger builds the production logger configuration: json encoded,
// info level.
func MakeLogger() (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
