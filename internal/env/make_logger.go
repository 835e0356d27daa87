package env

import (
	zap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func MakeLogger(level string) (*zap.Logger, error) {
	logLevel := zapcore.InfoLevel
	if level != "" {
		if err := logLevel.Set(level); err != nil {
			return nil, err
		}
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(logLevel)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
