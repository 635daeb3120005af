package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orderbus/project/internal/app/projection"
	"github.com/orderbus/project/internal/app/query"
	"github.com/orderbus/project/internal/app/relay"
	"github.com/orderbus/project/internal/app/staff"
	platformauth "github.com/orderbus/project/internal/platform/auth"
	"github.com/orderbus/project/internal/platform/dbpool"
	"github.com/orderbus/project/internal/platform/env"
	"github.com/orderbus/project/internal/platform/logging"
	"github.com/orderbus/project/internal/platform/natsutil"
	"github.com/orderbus/project/internal/platform/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New("relay")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("relay stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("RELAY_ADDR", env.DefaultRelayAddr)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)
	audience := relay.ParseAudience(env.String("RELAY_BROADCAST_AUDIENCE", string(relay.AudienceCashiers)))

	shutdownTracing := telemetry.Setup("relay", logger)
	defer func() { _ = shutdownTracing(context.Background()) }()

	registry := relay.NewRegistry()
	router := relay.NewRouter(registry, audience, nil, logger)

	var (
		natsClient *natsutil.Client
		err        error
	)
	if env.Bool("RELAY_PUBLISH_EVENTS", true) {
		natsClient, err = natsutil.ConnectJetStreamWithRetry(
			env.String("NATS_URL", env.DefaultNATSURL),
			env.Duration("NATS_CONNECT_TIMEOUT", 30*time.Second),
			logger,
		)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		router.Publish = natsutil.JetStreamPublisher{JS: natsClient.JS}.Publish
	}

	var (
		pool   *pgxpool.Pool
		orders relay.OrderReader
	)
	if env.Bool("RELAY_ORDER_HISTORY", true) {
		pool, err = dbpool.New(runCtx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
		if err != nil {
			return err
		}
		defer pool.Close()

		// The relay reads the projection; the schema is owned by order-sink but
		// creating it here lets the relay start first.
		schema := projection.NewEventRepository(pool)
		if err := dbpool.WaitReady(runCtx, pool, schema.EnsureSchema, 30*time.Second, logger); err != nil {
			return fmt.Errorf("postgres readiness: %w", err)
		}
		repo := query.NewOrderRepository(pool)
		orders = repo
		if err := seedOpenOrders(runCtx, router, repo); err != nil {
			logger.Warn("seeding open orders failed", zap.Error(err))
		}
	}

	staffService := staff.NewService(
		env.String("CASHIER_PIN_HASH", ""),
		platformauth.NewManager(env.String("JWT_SECRET", "dev-insecure-change-me"), env.Duration("CASHIER_TOKEN_TTL", 12*time.Hour)),
	)
	var tokens relay.TokenParser
	if staffService.Enabled() {
		tokens = staffService.AuthToken
	} else {
		logger.Warn("cashier auth disabled, socket roles are self-declared")
	}

	socket := relay.NewSocketServer(registry, router, tokens, logger)
	socket.SendBuffer = env.Int("RELAY_SEND_BUFFER", socket.SendBuffer)

	handler := relay.NewHandler(router, socket, orders, staffService, env.String("UI_ORIGIN", ""), logger)
	handler.Ready = func(ctx context.Context) error {
		return checkReadiness(ctx, natsClient, pool)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(handler.Routes(), "relay"),
		ReadHeaderTimeout: 5 * time.Second,
		// WriteTimeout stays unset for long-lived sockets.
		IdleTimeout: 120 * time.Second,
	}

	logger.Info("relay listening",
		zap.String("addr", addr),
		zap.String("audience", string(audience)),
		zap.Int("open_orders", router.OpenCount()),
	)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay graceful shutdown failed", zap.Error(err))
	}
	for _, conn := range registry.Everyone() {
		registry.Unregister(conn)
	}
	return nil
}

func seedOpenOrders(ctx context.Context, router *relay.Router, repo *query.OrderRepository) error {
	seedCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	open, err := repo.OpenOrderTables(seedCtx)
	if err != nil {
		return err
	}
	router.SeedOpen(open)
	return nil
}

func checkReadiness(ctx context.Context, client *natsutil.Client, pool *pgxpool.Pool) error {
	if client != nil && !client.Connected() {
		return errors.New("nats is not connected")
	}
	if pool == nil {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
