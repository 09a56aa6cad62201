package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/adred-codev/pulse/internal/admission"
	"github.com/adred-codev/pulse/internal/config"
	"github.com/adred-codev/pulse/internal/drain"
	"github.com/adred-codev/pulse/internal/gateway"
	"github.com/adred-codev/pulse/internal/httpapi"
	"github.com/adred-codev/pulse/internal/leader"
	"github.com/adred-codev/pulse/internal/lobby"
	"github.com/adred-codev/pulse/internal/logging"
	"github.com/adred-codev/pulse/internal/milestone"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/adred-codev/pulse/internal/sysinfo"
	"github.com/adred-codev/pulse/internal/tick"
	_ "go.uber.org/automaxprocs"
)

func main() {
	var debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	startupLog := log.New(os.Stdout, "[PULSE] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	startupLog.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	cfg, err := config.Load(nil)
	if err != nil {
		startupLog.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.Print()

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	s, err := store.New(store.Config{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to state store")
	}
	defer s.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.InitCounters(initCtx, s, "global:concurrent_connections", "global:total_connection_seconds", "global:peak_connections")
	initCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize global counters")
	}

	hub := lobby.New(logger)

	var transport *lobby.NATSTransport
	if cfg.NATSURL != "" {
		transport, err = lobby.Connect(cfg.NATSURL, hub, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("cross-node fan-out transport unavailable, running single-node")
		} else {
			hub.SetTransport(transport)
			defer transport.Close()
		}
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "pulse-node"
		}
		nodeID = hostname
	}

	admissionCtl := admission.New(s, admission.Config{
		MaxPerSourcePerMinute: cfg.ConnectionsPerIPPerMinute,
		MaxGlobalPerSecond:    cfg.GlobalConnectionsPerSec,
		MaxGlobal:             cfg.MaxGlobalConnections,
	}, logger)
	defer admissionCtl.Stop()

	drainCoord := drain.New(s, hub, drain.Config{
		ForceCompleteTimeout: cfg.ForceCompleteTimeout,
		HardShutdownTimeout:  cfg.HardShutdownTimeout,
		ReconnectDelayMS:     1000,
	}, logger)

	milestones := milestone.New(s, hub, logger)

	var elector leader.Elector
	if cfg.RedisURL == "" {
		elector = leader.SoloElector{}
	} else {
		elector = leader.NewRedisElector(nodeID, cfg.LeaderLeaseTTL, cfg.LeaderRenewInterval, s, logger)
	}

	tickEngine := tick.New(cfg.TickInterval, s, hub, milestones, elector, logger)

	sysSampler := sysinfo.New(cfg.MetricsInterval, logger)

	gw := gateway.New(gateway.Config{
		Admission:  admissionCtl,
		Drain:      drainCoord,
		Lobby:      hub,
		Milestones: milestones,
		Store:      s,
		Logger:     logger,
	})

	api := &httpapi.API{
		Store:          s,
		Admission:      admissionCtl,
		Drain:          drainCoord,
		Milestones:     milestones,
		Tick:           tickEngine,
		SysInfo:        sysSampler,
		TickStaleAfter: 3 * cfg.TickInterval,
	}

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/ws", gw)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go elector.Run(runCtx)
	go tickEngine.Run(runCtx)
	go sysSampler.Run(runCtx)

	if cfg.ReconcileEnabled {
		reconciler := drain.NewReconciler(nodeID, cfg.ReconcileInterval, s, drainCoord, logger)
		go reconciler.Run(runCtx)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("pulse server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error().Err(err).Msg("http server failed to bind or serve")
		os.Exit(1)
	case <-sigCh:
		logger.Info().Msg("shutdown signal received, starting drain")
	}

	drainCoord.BeginDrain(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HardShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	select {
	case <-drainCoord.Done():
		logger.Info().Msg("drain completed cleanly")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("drain did not complete before the shutdown deadline, forcing exit")
		os.Exit(1)
	}

	// Stop the elector's renewal loop before releasing the lease, so a
	// concurrent renewal tick can't race the release.
	runCancel()
	if redisElector, ok := elector.(*leader.RedisElector); ok {
		redisElector.Release(shutdownCtx)
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	logger.Info().Msg("pulse server exited")
}
