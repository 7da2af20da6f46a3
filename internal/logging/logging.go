// Package logging builds the process-wide zap logger from configuration.
// Components receive named child loggers from the one returned here.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"uniassist/internal/config"
	"uniassist/internal/errkind"
)

// New builds a logger honoring the configured level, format and
// optional log file. An empty config yields a JSON info-level logger
// on stderr.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, errkind.E(errkind.InvalidInput, "unknown log level "+cfg.Level, err)
		}
	}

	var zc zap.Config
	switch cfg.Format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, errkind.Errorf(errkind.InvalidInput, "unknown log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil

	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
	}

	log, err := zc.Build()
	if err != nil {
		return nil, errkind.E(errkind.Internal, "failed to build logger", err)
	}
	return log, nil
}
