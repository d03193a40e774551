package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/02loveslollipop/detection-relay/services/internal/logger"
	"github.com/02loveslollipop/detection-relay/services/internal/transport"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/aggregator"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/config"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/identity"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/metrics"
	"github.com/02loveslollipop/detection-relay/services/publisher/internal/source"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("publisher failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	lg := logger.New(cfg.LogLevel)

	deviceID, err := identity.Resolve(cfg.DeviceID, cfg.DeviceCertFile)
	if err != nil {
		return err
	}
	lg.Warn("device identity resolved", "device_id", deviceID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cloud, err := transport.New(cfg.Cloud, lg)
	if err != nil {
		return err
	}
	if err := cloud.Connect(ctx); err != nil {
		return err
	}
	defer cloud.Disconnect()

	local, err := transport.New(cfg.Local, lg)
	if err != nil {
		return err
	}
	if err := local.Connect(ctx); err != nil {
		return err
	}
	defer local.Disconnect()

	src := source.NewLocal(local, cfg.LocalTopic, cfg.SourceBuffer, m, lg)
	if err := src.Start(ctx); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, reg, lg)
	}

	agg := aggregator.New(aggregator.Config{
		DeviceID:  deviceID,
		Topic:     cfg.PublishTopic,
		Window:    cfg.Window,
		KeepAlive: cfg.KeepAlive,
		Threshold: cfg.Threshold,
	}, cloud, m, lg)

	if err := agg.Run(ctx, src.Events()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Warn("exiting on signal")
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "error", err)
	}
}
