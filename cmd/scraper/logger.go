package main

import (
	"github.com/gridsight/utility-bill-worker/internal/config"
	"github.com/gridsight/utility-bill-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
