// Package app wires bot runtime dependencies and runs the dispatch loop.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/concordbot/concord/internal/services/activity"
	activitysqlite "github.com/concordbot/concord/internal/services/activity/storage/sqlite"
	"github.com/concordbot/concord/internal/services/economy"
	economysqlite "github.com/concordbot/concord/internal/services/economy/storage/sqlite"
	"github.com/concordbot/concord/internal/services/progression"
	progressionsqlite "github.com/concordbot/concord/internal/services/progression/storage/sqlite"
	"github.com/concordbot/concord/internal/services/tickets"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls bot startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port          int
	DataDir       string
	Consumer      string
	PollInterval  time.Duration
	BatchSize     int
	LeaseTTL      time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

const (
	defaultBotPort = 8090
	defaultDataDir = "data"
)

// Services bundles the constructed service layer for the gateway surface.
type Services struct {
	Ledger     *economy.Ledger
	Shop       *economy.Shop
	Engine     *progression.Engine
	Ranks      *progression.Ranks
	Settings   *progression.SettingsManager
	Tickets    *tickets.Registry
	Recorder   *activity.Recorder
	Dispatcher *activity.Dispatcher
}

// Run starts bot runtime dependencies and the dispatch loop, blocking until
// the context is canceled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultBotPort
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create bot storage dir: %w", err)
	}

	economyStore, err := economysqlite.Open(filepath.Join(cfg.DataDir, "economy.db"))
	if err != nil {
		return fmt.Errorf("open economy sqlite store: %w", err)
	}
	defer func() {
		if closeErr := economyStore.Close(); closeErr != nil {
			log.Printf("close economy sqlite store: %v", closeErr)
		}
	}()

	progressionStore, err := progressionsqlite.Open(filepath.Join(cfg.DataDir, "progression.db"))
	if err != nil {
		return fmt.Errorf("open progression sqlite store: %w", err)
	}
	defer func() {
		if closeErr := progressionStore.Close(); closeErr != nil {
			log.Printf("close progression sqlite store: %v", closeErr)
		}
	}()

	activityStore, err := activitysqlite.Open(filepath.Join(cfg.DataDir, "activity.db"))
	if err != nil {
		return fmt.Errorf("open activity sqlite store: %w", err)
	}
	defer func() {
		if closeErr := activityStore.Close(); closeErr != nil {
			log.Printf("close activity sqlite store: %v", closeErr)
		}
	}()

	services := buildServices(economyStore, progressionStore, activityStore, cfg)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on bot port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("bot.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("bot server listening at %v", listener.Addr())
	return services.Dispatcher.Run(ctx)
}

func buildServices(economyStore *economysqlite.Store, progressionStore *progressionsqlite.Store, activityStore *activitysqlite.Store, cfg RuntimeConfig) Services {
	ledger := economy.NewLedger(economyStore)
	shop := economy.NewShop(economyStore, ledger)
	engine := progression.NewEngine(progressionStore, ledger)
	ranks := progression.NewRanks(progressionStore)
	settings := progression.NewSettingsManager(progressionStore)
	registry := tickets.NewRegistry()

	dispatcher := activity.NewDispatcher(activityStore, engine, ledger, settings, activity.Config{
		Consumer:      cfg.Consumer,
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
		LeaseTTL:      cfg.LeaseTTL,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}, nil)

	return Services{
		Ledger:     ledger,
		Shop:       shop,
		Engine:     engine,
		Ranks:      ranks,
		Settings:   settings,
		Tickets:    registry,
		Recorder:   activity.NewRecorder(activityStore),
		Dispatcher: dispatcher,
	}
}
