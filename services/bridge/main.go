package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/02loveslollipop/detection-relay/services/bridge/config"
	"github.com/02loveslollipop/detection-relay/services/bridge/db"
	"github.com/02loveslollipop/detection-relay/services/bridge/fanout"
	httpserver "github.com/02loveslollipop/detection-relay/services/bridge/http"
	"github.com/02loveslollipop/detection-relay/services/bridge/metrics"
	"github.com/02loveslollipop/detection-relay/services/internal/logger"
	"github.com/02loveslollipop/detection-relay/services/internal/transport"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("bridge failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	lg := logger.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := fanout.NewHub()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, hub.Len)

	deps := httpserver.Deps{
		Hub:      hub,
		Metrics:  m,
		Gatherer: reg,
		Logger:   lg,
	}

	if cfg.HistoryEnabled() {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Store = store

		sub := hub.Subscribe()
		defer sub.Close()
		recorder := db.NewRecorder(store, sub, lg)
		go func() {
			if err := recorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, fanout.ErrClosed) {
				lg.Error("recorder stopped", "error", err)
			}
		}()
		lg.Info("history enabled")
	}

	client, err := transport.New(cfg.MQTT, lg)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	err = client.Subscribe(ctx, cfg.DetectionTopic, func(payload []byte) {
		m.Payloads.Inc()
		hub.Broadcast(payload)
	})
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg, deps)
	lg.Info("bridge listening", "addr", cfg.ListenAddr(), "topic", cfg.DetectionTopic)

	if err := srv.Run(ctx); err != nil {
		return err
	}
	lg.Warn("exiting on signal")
	return nil
}
