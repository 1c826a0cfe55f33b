// Command lockserverd runs the lock coordinator: it answers ACQUIRE/RELEASE
// RPCs over NATS, drives the REVOKE/RETRY sender, and exposes metrics and a
// live observer feed, following the teacher's main.go wiring (flag parsing,
// automaxprocs, structured logging, signal-driven graceful shutdown).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	_ "go.uber.org/automaxprocs"

	"github.com/coherentd/lockd/internal/audit"
	"github.com/coherentd/lockd/internal/config"
	"github.com/coherentd/lockd/internal/coordinator"
	"github.com/coherentd/lockd/internal/limits"
	"github.com/coherentd/lockd/internal/logging"
	"github.com/coherentd/lockd/internal/metrics"
	"github.com/coherentd/lockd/internal/observe"
	"github.com/coherentd/lockd/internal/rsm"
	"github.com/coherentd/lockd/internal/transport"
)

func splitBrokers(brokers string) []string {
	result := []string{}
	for _, b := range strings.Split(brokers, ",") {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	startupLogger := log.New(os.Stdout, "[lockserverd] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	startupLogger.Printf("GOMAXPROCS: %d", maxProcs)

	cfg, err := config.LoadServerConfig(nil)
	if err != nil {
		startupLogger.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "lockserverd"})
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer conn.Drain()

	var auditPub *audit.Publisher
	if cfg.AuditTopic != "" {
		auditPub, err = audit.New(splitBrokers(cfg.AuditBrokers), cfg.AuditTopic, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to construct audit publisher")
		}
		defer auditPub.Close(context.Background())
	}

	hub := observe.NewHub(logger)

	guard := limits.New(ctx, limits.Config{
		SenderRatePerSec:  cfg.SenderRatePerSec,
		SenderBurst:       cfg.SenderBurst,
		CPUPauseThreshold: cfg.CPUPauseThreshold,
	}, logger)

	coordMetrics := metrics.NewCoordinator()
	substrate := rsm.NewStandalone()
	clientCaller := &transport.NATSClientCaller{Conn: conn}

	coord := coordinator.New(clientCaller, substrate.AmIPrimary, logger, coordMetrics, guard, auditPub, hub)
	substrate.SetStateTransfer(coord)
	coord.Start(ctx)

	subs, err := transport.SubscribeCoordinator(conn, coord, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe coordinator RPC handlers")
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	metricsServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	observeMux := http.NewServeMux()
	observeMux.Handle("/debug/locks", hub)
	observeServer := &http.Server{
		Addr:         cfg.ObserveAddr,
		Handler:      observeMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket streams run indefinitely
	}
	go func() {
		if err := observeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("observe server error")
		}
	}()

	logger.Info().Str("nats_url", cfg.NATSURL).Msg("lockserverd ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)
	observeServer.Shutdown(shutdownCtx)

	cancel()
	coord.Wait()
}
