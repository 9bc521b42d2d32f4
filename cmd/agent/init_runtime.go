package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chih3b/SanteConnect/internal/bootstrap"
	"github.com/chih3b/SanteConnect/internal/infra/config"
	"github.com/chih3b/SanteConnect/internal/infra/logger"
	"github.com/chih3b/SanteConnect/internal/infra/tracer"
)

// runtime holds the process-wide components shared by every command.
type runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	factory *bootstrap.Factory
	closers []func() error
}

// initRuntime loads configuration and builds logging, tracing and the agent
// factory, in that order.
func initRuntime(cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log, closers: []func() error{logCloser}}

	tracerShutdown, err := tracer.Setup(context.Background(), cfg.Tracer)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.closers = append(rt.closers, func() error { return tracerShutdown(context.Background()) })

	factory, err := bootstrap.New(cfg, log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	rt.factory = factory
	rt.closers = append(rt.closers, factory.Close)
	return rt, nil
}

// Close releases components in reverse order of creation.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && r.log != nil {
			r.log.Error("shutdown error", "error", err)
		}
	}
	r.closers = nil
}
