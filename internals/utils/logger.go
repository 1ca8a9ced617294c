package utils

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// InitLogger builds the process logger. "json" selects the production encoder,
// anything else the console one. Unknown levels fall back to info.
func InitLogger(level, format string) error {
	var config zap.Config

	if format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Logger = logger.With(zap.String("service", "roomlink"))
	return nil
}

func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func GetLogger() *zap.Logger {
	if Logger == nil {
		// Fallback logger
		Logger, _ = zap.NewProduction()
	}
	return Logger
}
