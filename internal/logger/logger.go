package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Level comes from BALANCE_LOG_LEVEL
// (debug/info/warn/error), defaulting to info; component names the
// binary so fleet logs are filterable.
func New(component string) (*zap.SugaredLogger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(levelFromEnv()),
		Encoding:         "json",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]interface{}{"component": component},
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func levelFromEnv() zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.Set(envOr("BALANCE_LOG_LEVEL", "info")); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
