package main

import (
	"github.com/gridlens/ami-telemetry-worker/internal/config"
	"github.com/gridlens/ami-telemetry-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
