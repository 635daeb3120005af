package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/orderbus/project/internal/app/projection"
	"github.com/orderbus/project/internal/messaging"
	"github.com/orderbus/project/internal/platform/dbpool"
	"github.com/orderbus/project/internal/platform/env"
	"github.com/orderbus/project/internal/platform/logging"
	"github.com/orderbus/project/internal/platform/metrics"
	"github.com/orderbus/project/internal/platform/natsutil"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New("order-sink")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("order-sink stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(ctx, env.String("DATABASE_URL", env.DefaultDatabaseURL))
	if err != nil {
		return err
	}
	defer pool.Close()

	repository := projection.NewEventRepository(pool)
	if err := dbpool.WaitReady(ctx, pool, repository.EnsureSchema, 30*time.Second, logger); err != nil {
		return err
	}
	service := projection.NewService(repository)

	client, err := natsutil.ConnectJetStreamWithRetry(
		env.String("NATS_URL", env.DefaultNATSURL),
		env.Duration("NATS_CONNECT_TIMEOUT", 20*time.Second),
		logger,
	)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.JS.QueueSubscribe(messaging.OrderEventsFilter, "order-sink", func(msg *nats.Msg) {
		var eventSeq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			eventSeq = meta.Sequence.Stream
		}

		insertCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := service.Handle(insertCtx, msg.Data, eventSeq); err != nil {
			if projection.Permanent(err) {
				logger.Warn("discarding event", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Term()
				return
			}
			logger.Error("event persistence failed", zap.String("subject", msg.Subject), zap.Error(err))
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.ManualAck(), nats.BindStream(messaging.OrderEventsStream))
	if err != nil {
		return err
	}
	defer func() { _ = sub.Drain() }()

	addr := env.String("ORDER_SINK_ADDR", env.DefaultSinkAddr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !client.Connected() {
			http.Error(w, "nats is not connected", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("order-sink consuming", zap.String("subject", sub.Subject), zap.String("metrics_addr", addr))

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
