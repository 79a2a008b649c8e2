package main

import (
	"context"

	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
)

// setupMetrics installs the configured metrics backend and returns a func
// that flushes and detaches it. A backend that fails to start leaves the nop
// backend in place; metrics never fail a load.
func setupMetrics(ctx context.Context, cfg config.MetricsConfig) func() {
	log := zap.L()

	switch cfg.Backend {
	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			log.Warn("metrics: failed to init datadog backend; using nop", zap.Error(err))
			return func() {}
		}
		log.Info("metrics: datadog enabled", zap.String("job", cfg.Job), zap.Strings("tags", tags))
		metrics.SetBackend(b)

		// Close stops the flush loop and performs the final Flush.
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		log.Debug("metrics: disabled")
		return func() {}

	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", cfg.Backend))
		return func() {}
	}
}
