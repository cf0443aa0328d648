package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/dialmobile/internal/api"
	"github.com/flowpbx/dialmobile/internal/bus"
	"github.com/flowpbx/dialmobile/internal/config"
	"github.com/flowpbx/dialmobile/internal/database"
	"github.com/flowpbx/dialmobile/internal/dialmobile"
	"github.com/flowpbx/dialmobile/internal/event"
	"github.com/flowpbx/dialmobile/internal/metrics"
	"github.com/flowpbx/dialmobile/internal/push"
	"github.com/flowpbx/dialmobile/internal/resolver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialmobiled",
		"http_port", cfg.HTTPPort,
		"nats_url", cfg.NATSURL,
		"bus_prefix", cfg.BusPrefix,
		"dispatch_mode", cfg.DispatchMode,
		"data_dir", cfg.DataDir,
	)
	startTime := time.Now()

	// Application context for background goroutines, cancelled on SIGINT
	// or SIGTERM.
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database and run migrations.
	db, err := database.Open(appCtx, cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	tokens := database.NewPushTokenRepository(db)

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("invalid jwt secret", "error", err)
		os.Exit(1)
	}

	nc, err := bus.Connect(cfg.NATSURL, "dialmobiled", logger)
	if err != nil {
		slog.Error("failed to connect to message bus", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	// Dispatchers, per the configured mode.
	var dispatchers push.Fanout
	if cfg.UsesBus() {
		dispatchers = append(dispatchers, bus.NewPublisher(nc, cfg.BusPrefix, logger))
	}
	if cfg.UsesGateway() {
		client := push.NewClient(cfg.PushGatewayURL, cfg.LicenseKey, tokens, logger)
		if !client.Configured() {
			slog.Warn("push gateway license key not configured, gateway pushes will fail")
		}
		dispatchers = append(dispatchers, client)
	}

	counters := metrics.NewCounters()
	res := resolver.NewARIClient(cfg.ARIURL, cfg.ARIUsername, cfg.ARIPassword, cfg.ResolveTimeout, logger)

	svc := dialmobile.NewService(dialmobile.Config{
		DispatchTimeout: cfg.DispatchTimeout,
		ResolveTimeout:  cfg.ResolveTimeout,
		PendingTTL:      cfg.PendingPushTTL,
	}, dispatchers, res, counters, logger)
	if cfg.MobileHints {
		svc.SetHintUpdater(res)
	}

	router := dialmobile.NewRouter(svc, event.Filter{
		BridgePrefix: cfg.BridgePrefix,
		WaitContext:  cfg.WaitContext,
		Technologies: cfg.Technologies(),
	}, logger)

	consumer := bus.NewConsumer(nc, cfg.BusPrefix, cfg.BusWorkers, event.Relevant, router.Handle, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.Run(appCtx)
	}()
	consumerErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(appCtx); err != nil {
			consumerErr <- err
		}
	}()

	// Prometheus registry with scrape-time gauges and event counters.
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(svc, svc, tokens, startTime),
		counters,
	)

	handler := api.NewServer(api.Options{
		Tokens:       tokens,
		Orchestrator: svc,
		JWTSecret:    jwtSecret,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Checks: map[string]api.HealthCheck{
			"database": db.PingContext,
			"bus": func(context.Context) error {
				if status := nc.Status(); status != nats.CONNECTED {
					return fmt.Errorf("bus %s", status)
				}
				return nil
			},
		},
		TLSEnabled: cfg.TLSEnabled(),
		Logger:     logger,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.TLSEnabled())
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for a signal, a server error or the bus subscription failing.
	exitCode := 0
	select {
	case <-appCtx.Done():
		slog.Info("received shutdown signal")
	case err := <-errCh:
		slog.Error("http server error", "error", err)
		exitCode = 1
	case err := <-consumerErr:
		slog.Error("bus consumer stopped", "error", err)
		exitCode = 1
	}
	stop()

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down servers")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		exitCode = 1
	}
	wg.Wait()

	if n := svc.PendingCount(); n > 0 {
		slog.Warn("exiting with unresolved pushes", "pending", n)
	}
	slog.Info("dialmobiled stopped")

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
