package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/orderbus/project/internal/app/cashier"
	"github.com/orderbus/project/internal/app/customer"
	"github.com/orderbus/project/internal/app/menu"
	"github.com/orderbus/project/internal/channel"
	"github.com/orderbus/project/internal/contracts"
	"github.com/orderbus/project/internal/platform/env"
	"github.com/orderbus/project/internal/platform/logging"
	"github.com/orderbus/project/internal/platform/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type config struct {
	RelayURL      string
	APIBase       string
	MenuURL       string
	Tables        int
	Duration      time.Duration
	RampUp        time.Duration
	OrderInterval time.Duration
	DeskInterval  time.Duration
	RejectRate    float64
	StartupWait   time.Duration
	MetricsAddr   string
	CashierPIN    string
}

var (
	ordersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbus_sim_orders_placed_total",
		Help: "Orders submitted by simulated tables.",
	}, []string{"outcome"})

	deskActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbus_sim_desk_actions_total",
		Help: "Operator actions taken by the simulated cashier desk.",
	}, []string{"action", "outcome"})

	toasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbus_sim_toasts_total",
		Help: "Customer toasts raised by status updates.",
	}, []string{"kind"})

	deskAlerts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderbus_sim_desk_alerts_total",
		Help: "New-order alerts raised at the cashier desk.",
	})

	tableConnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderbus_sim_table_connects_total",
		Help: "Relay connects and reconnects made by simulated tables.",
	})
)

func init() {
	metrics.Default.MustRegister(ordersPlaced, deskActions, toasts, deskAlerts, tableConnects)
}

func main() {
	logger, err := logging.New("table-sim")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if cfg.Tables <= 0 {
		logger.Fatal("SIM_TABLES must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, logger)

	httpClient := &http.Client{Timeout: 5 * time.Second}
	if err := waitForHTTPStatus(ctx, httpClient, cfg.APIBase+"/readyz", http.StatusOK, cfg.StartupWait); err != nil {
		logger.Fatal("relay not ready", zap.Error(err))
	}

	catalog := menu.NewCatalog(cfg.MenuURL, logger)
	dishes := catalog.Load(ctx)

	desk, err := startDesk(ctx, cfg, httpClient, logger)
	if err != nil {
		logger.Fatal("cashier desk setup failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDesk(ctx, cfg, desk, logger)
	}()

	for i := 1; i <= cfg.Tables; i++ {
		table := strconv.Itoa(i)
		delay := time.Duration(float64(cfg.RampUp) / float64(cfg.Tables) * float64(i-1))
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTable(ctx, cfg, table, dishes, delay, logger)
		}()
	}
	logger.Info("simulation started",
		zap.Int("tables", cfg.Tables),
		zap.Int("dishes", len(dishes)),
		zap.Duration("duration", cfg.Duration),
	)

	<-ctx.Done()
	wg.Wait()
	logger.Info("simulation complete", zap.Int("board_remaining", desk.Board.Len()))
}

func loadConfig() config {
	return config{
		RelayURL:      env.String("SIM_RELAY_URL", env.DefaultRelayURL),
		APIBase:       strings.TrimRight(env.String("SIM_API_BASE", env.DefaultAPIBase), "/"),
		MenuURL:       env.String("SIM_MENU_URL", ""),
		Tables:        env.Int("SIM_TABLES", 10),
		Duration:      env.Duration("SIM_DURATION", 5*time.Minute),
		RampUp:        env.Duration("SIM_RAMP_UP", 10*time.Second),
		OrderInterval: env.Duration("SIM_ORDER_INTERVAL", 15*time.Second),
		DeskInterval:  env.Duration("SIM_DESK_INTERVAL", 2*time.Second),
		RejectRate:    floatEnv("SIM_REJECT_RATE", 0.05),
		StartupWait:   env.Duration("SIM_STARTUP_WAIT", 2*time.Minute),
		MetricsAddr:   env.String("SIM_METRICS_ADDR", ":9099"),
		CashierPIN:    env.String("SIM_CASHIER_PIN", ""),
	}
}

func startDesk(ctx context.Context, cfg config, httpClient *http.Client, logger *zap.Logger) (*cashier.Desk, error) {
	opts := []channel.Option{channel.WithLogger(logger.With(zap.String("client", "desk")))}
	deskURL := cfg.RelayURL
	if cfg.CashierPIN != "" {
		token, err := cashierLogin(ctx, httpClient, cfg.APIBase, cfg.CashierPIN)
		if err != nil {
			return nil, err
		}
		opts = append(opts, channel.WithBearerToken(token))
	} else {
		deskURL += "?role=cashier"
	}

	client := channel.New(deskURL, opts...)
	alerter := cashier.AlerterFunc(func(context.Context, contracts.Order) error {
		deskAlerts.Inc()
		return nil
	})
	desk := cashier.NewDesk(client, alerter, logger)
	desk.Attach()
	client.Connect()
	go func() {
		<-ctx.Done()
		client.Close()
	}()
	return desk, nil
}

func cashierLogin(ctx context.Context, httpClient *http.Client, apiBase, pin string) (string, error) {
	raw, err := json.Marshal(map[string]string{"pin": pin, "desk": "table-sim"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/api/v1/cashier/session", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cashier login: status=%d", resp.StatusCode)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", err
	}
	if session.Token == "" {
		return "", errors.New("cashier login: empty token")
	}
	return session.Token, nil
}

// runDesk walks every board order one step along the lifecycle per tick.
func runDesk(ctx context.Context, cfg config, desk *cashier.Desk, logger *zap.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(cfg.DeskInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, order := range desk.Board.Orders() {
			action, act := nextAction(desk, order.Status, rng.Float64() < cfg.RejectRate)
			if act == nil {
				continue
			}
			outcome := "success"
			if err := act(order.Order.OrderID); err != nil {
				outcome = "error"
				logger.Debug("desk action failed", zap.String("action", action), zap.Error(err))
			}
			deskActions.WithLabelValues(action, outcome).Inc()
		}
		desk.Queue.ClearOrderUpdates()
	}
}

func nextAction(desk *cashier.Desk, status contracts.Status, reject bool) (string, func(string) error) {
	switch status {
	case contracts.StatusPending:
		if reject {
			return "reject", desk.Reject
		}
		return "confirm", desk.Confirm
	case contracts.StatusConfirmed, contracts.StatusPreparing:
		return "ready", desk.MarkReady
	case contracts.StatusReady:
		return "serve", desk.Serve
	case contracts.StatusServed:
		return "pay", desk.ProcessPayment
	default:
		return "", nil
	}
}

func runTable(ctx context.Context, cfg config, table string, dishes []menu.Dish, delay time.Duration, logger *zap.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	tableLogger := logger.With(zap.String("table", table))
	client := channel.New(cfg.RelayURL, channel.WithLogger(tableLogger))
	notifier := customer.NotifierFunc(func(kind customer.ToastKind, _ string) {
		toasts.WithLabelValues(string(kind)).Inc()
	})
	tracker := customer.NewTracker(table, notifier, tableLogger)
	guest := customer.New(tracker, client, customer.NewRESTReconciler(cfg.APIBase), tableLogger)
	guest.Attach()
	client.OnConnect(tableConnects.Inc)
	client.Connect()
	defer client.Close()

	if len(dishes) == 0 {
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(table))*7919))
	ticker := time.NewTicker(cfg.OrderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !client.Connected() || len(tracker.Statuses()) > 0 {
			continue
		}
		for n := 1 + rng.Intn(3); n > 0; n-- {
			dish := dishes[rng.Intn(len(dishes))]
			tracker.AddToCart(dish.Item(1+rng.Intn(2), ""))
		}
		if _, err := guest.PlaceOrder(); err != nil {
			ordersPlaced.WithLabelValues("error").Inc()
			tableLogger.Debug("place order failed", zap.Error(err))
			continue
		}
		ordersPlaced.WithLabelValues("success").Inc()
	}
}

func waitForHTTPStatus(ctx context.Context, httpClient *http.Client, requestURL string, expectedStatus int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == expectedStatus {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func runMetricsServer(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
