package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger: human readable console output for
// LOG_FORMAT=console, JSON lines otherwise.
func (c *Config) NewLogger() (*zap.Logger, error) {
	cfg, err := c.zapConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(c.Name), nil
}

func (c *Config) zapConfig() (zap.Config, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zap.Config{}, err
	}

	cfg := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg, nil
}
