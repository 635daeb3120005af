package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/orderbus/project/internal/app/query"
	"github.com/orderbus/project/internal/app/staff"
	"github.com/orderbus/project/internal/contracts"
	platformauth "github.com/orderbus/project/internal/platform/auth"
	"github.com/orderbus/project/internal/platform/metrics"
	"github.com/orderbus/project/services/frontend"
	"go.uber.org/zap"
)

const defaultReconcileWindow = 12 * time.Hour

type OrderReader interface {
	ListTableOrders(ctx context.Context, tableNumber string, since time.Time, limit int) ([]query.OrderView, error)
	GetOrder(ctx context.Context, orderID string) (query.OrderView, error)
	ListOpenOrders(ctx context.Context, limit int) ([]query.OrderView, error)
}

type CashierAuth interface {
	Enabled() bool
	Login(pin, desk string) (staff.Session, error)
	Authorize(token string) (platformauth.Claims, error)
}

type Handler struct {
	Router        *Router
	Socket        http.Handler
	Orders        OrderReader
	Staff         CashierAuth
	AllowedOrigin string
	Ready         func(ctx context.Context) error
	Now           func() time.Time
	Logger        *zap.Logger
}

func NewHandler(router *Router, socket http.Handler, orders OrderReader, cashierAuth CashierAuth, allowedOrigin string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Router:        router,
		Socket:        socket,
		Orders:        orders,
		Staff:         cashierAuth,
		AllowedOrigin: allowedOrigin,
		Now:           func() time.Time { return time.Now().UTC() },
		Logger:        logger,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", metrics.DefaultHandler())
	if h.Socket != nil {
		r.Handle("/socket", h.Socket)
	}
	r.Handle("/static/*", frontend.AssetsHandler())

	r.Get("/api/v1/tables/{table}/orders", h.handleListTableOrders)
	r.Get("/api/v1/orders/{orderID}", h.handleGetOrder)
	r.Post("/api/v1/orders", h.handleCreateOrder)
	r.Post("/api/v1/cashier/session", h.handleCashierSession)

	r.Group(func(cashierR chi.Router) {
		cashierR.Use(h.cashierMiddleware)
		cashierR.Post("/api/v1/orders/{orderID}/status", h.handleUpdateStatus)
		cashierR.Get("/admin", h.handleAdmin)
	})

	return r
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			writeText(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) handleListTableOrders(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		h.writeError(w, http.StatusServiceUnavailable, "order history is not configured")
		return
	}
	table := strings.TrimSpace(chi.URLParam(r, "table"))
	if unescaped, err := url.PathUnescape(table); err == nil {
		table = strings.TrimSpace(unescaped)
	}
	if table == "" {
		h.writeError(w, http.StatusBadRequest, "table is required")
		return
	}

	since := h.Now().Add(-defaultReconcileWindow)
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed := contracts.ParseStamp(raw)
		if parsed.IsZero() {
			h.writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	orders, err := h.Orders.ListTableOrders(r.Context(), table, since, limit)
	if err != nil {
		h.Logger.Error("list table orders failed", zap.String("table", table), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list orders failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tableNumber": table, "orders": orders})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		h.writeError(w, http.StatusServiceUnavailable, "order history is not configured")
		return
	}
	order, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, query.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.Logger.Error("get order failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order contracts.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(order.ID) == "" {
		h.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if strings.TrimSpace(order.TableNumber) == "" {
		h.writeError(w, http.StatusBadRequest, "tableNumber is required")
		return
	}

	routed, err := h.Router.RouteOrderCreated(order)
	if err != nil {
		if errors.Is(err, ErrDuplicateOrderID) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, routed)
}

type statusRequest struct {
	TableNumber string           `json:"tableNumber"`
	Status      contracts.Status `json:"status"`
}

func validStatus(status contracts.Status) bool {
	for _, candidate := range contracts.AllStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}
	if !validStatus(req.Status) {
		h.writeError(w, http.StatusBadRequest, "unsupported status")
		return
	}

	routed := h.Router.RouteStatusUpdate(contracts.OrderStatusUpdate{
		OrderID:     orderID,
		TableNumber: req.TableNumber,
		Status:      req.Status,
	})
	h.Logger.Info("status updated over rest",
		zap.String("order_id", routed.OrderID),
		zap.String("status", string(routed.Status)),
		zap.String("desk", claimsFromContext(r.Context()).Subject),
	)
	h.writeJSON(w, http.StatusAccepted, routed)
}

type sessionRequest struct {
	PIN  string `json:"pin"`
	Desk string `json:"desk"`
}

func (h *Handler) handleCashierSession(w http.ResponseWriter, r *http.Request) {
	if h.Staff == nil || !h.Staff.Enabled() {
		h.writeError(w, http.StatusNotImplemented, staff.ErrAuthDisabled.Error())
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	session, err := h.Staff.Login(req.PIN, req.Desk)
	if err != nil {
		if errors.Is(err, staff.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	var orders []query.OrderView
	if h.Orders != nil {
		var err error
		orders, err = h.Orders.ListOpenOrders(r.Context(), 100)
		if err != nil {
			h.Logger.Error("list open orders failed", zap.Error(err))
			http.Error(w, "list orders failed", http.StatusInternalServerError)
			return
		}
	}
	board := frontend.OrdersBoard(frontend.BoardData{
		Orders:      orders,
		Connections: h.Router.Registry.Len(),
		OpenOrders:  h.Router.OpenCount(),
		GeneratedAt: h.Now(),
	})
	templ.Handler(board).ServeHTTP(w, r)
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}

	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	if a.Port() != b.Port() {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

type claimsContextKey struct{}

// cashierMiddleware is a pass-through while cashier auth is disabled.
func (h *Handler) cashierMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Staff == nil || !h.Staff.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Staff.Authorize(token)
		if err != nil {
			if errors.Is(err, staff.ErrForbiddenRole) {
				h.writeError(w, http.StatusForbidden, err.Error())
				return
			}
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey{}, claims)))
	})
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
