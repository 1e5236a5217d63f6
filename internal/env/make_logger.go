package env

import (
	zap "go.uber.org/zap"
)

func MakeLogger(level string) (*zap.Logger, error) {
	atomicLevel := zap.NewAtomicLevelAt(zap.InfoLevel)

	if level != "" {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = atomicLevel
	logConfig.Encoding = "json"

	return logConfig.Build()
}
