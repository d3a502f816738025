package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new structured logger. LOG_LEVEL overrides the default
// info level.
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(raw)); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithFeeder returns a logger scoped to one tenant's feeder
func WithFeeder(logger *zap.Logger, tenantID, feederID string) *zap.Logger {
	return logger.With(
		zap.String("tenant_id", tenantID),
		zap.String("feeder_id", feederID),
	)
}
