package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orderbus/project/internal/app/query"
	"github.com/orderbus/project/internal/app/staff"
	"github.com/orderbus/project/internal/contracts"
	"github.com/orderbus/project/internal/platform/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeOrders struct {
	views     []query.OrderView
	lastTable string
	lastSince time.Time
	lastLimit int
}

func (f *fakeOrders) ListTableOrders(_ context.Context, table string, since time.Time, limit int) ([]query.OrderView, error) {
	f.lastTable, f.lastSince, f.lastLimit = table, since, limit
	var out []query.OrderView
	for _, view := range f.views {
		if view.TableNumber == table {
			out = append(out, view)
		}
	}
	return out, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID string) (query.OrderView, error) {
	for _, view := range f.views {
		if view.OrderID == orderID {
			return view, nil
		}
	}
	return query.OrderView{}, query.ErrOrderNotFound
}

func (f *fakeOrders) ListOpenOrders(_ context.Context, _ int) ([]query.OrderView, error) {
	return f.views, nil
}

var handlerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, orders OrderReader, cashierAuth CashierAuth) (*Handler, *Router) {
	t.Helper()
	router, _ := newTestRouter(t, AudienceCashiers)
	h := NewHandler(router, nil, orders, cashierAuth, "http://localhost:5173", zaptest.NewLogger(t))
	h.Now = func() time.Time { return handlerNow }
	return h, router
}

func serve(h *Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func newStaff(t *testing.T) *staff.Service {
	t.Helper()
	hash, err := staff.HashPIN("2468")
	require.NoError(t, err)
	return staff.NewService(hash, auth.NewManager("test-secret", time.Hour))
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)
	rec := serve(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyz_ReportsDependencyFailure(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)
	h.Ready = func(context.Context) error { return assert.AnError }
	rec := serve(h, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListTableOrders(t *testing.T) {
	orders := &fakeOrders{views: []query.OrderView{
		{OrderID: "A", TableNumber: "patio 3", Status: contracts.StatusReady, StatusAt: handlerNow},
		{OrderID: "B", TableNumber: "7", Status: contracts.StatusPending, StatusAt: handlerNow},
	}}
	h, _ := newTestHandler(t, orders, nil)

	rec := serve(h, http.MethodGet, "/api/v1/tables/patio%203/orders", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TableNumber string            `json:"tableNumber"`
		Orders      []query.OrderView `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "patio 3", body.TableNumber)
	require.Len(t, body.Orders, 1)
	assert.Equal(t, "A", body.Orders[0].OrderID)
	assert.Equal(t, handlerNow.Add(-defaultReconcileWindow), orders.lastSince)
	assert.Equal(t, 50, orders.lastLimit)
}

func TestListTableOrders_RejectsBadSince(t *testing.T) {
	h, _ := newTestHandler(t, &fakeOrders{}, nil)
	rec := serve(h, http.MethodGet, "/api/v1/tables/5/orders?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTableOrders_WithoutHistory(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)
	rec := serve(h, http.MethodGet, "/api/v1/tables/5/orders", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	h, _ := newTestHandler(t, &fakeOrders{}, nil)
	rec := serve(h, http.MethodGet, "/api/v1/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrder(t *testing.T) {
	h, router := newTestHandler(t, nil, nil)
	payload := `{"id":"A","tableNumber":"5","items":[{"id":"x","name":"Pizza","quantity":2,"price":1200}],"total":2400}`

	rec := serve(h, http.MethodPost, "/api/v1/orders", payload, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var routed contracts.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routed))
	assert.Equal(t, "A", routed.OrderID)
	assert.Equal(t, "2026-03-01T12:00:00Z", routed.Timestamp)
	assert.True(t, router.IsOpen("A"))

	rec = serve(h, http.MethodPost, "/api/v1/orders", payload, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateOrder_Validation(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)
	cases := map[string]string{
		"malformed":     `{"id":`,
		"missing id":    `{"tableNumber":"5"}`,
		"missing table": `{"id":"A","tableNumber":"  "}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, "/api/v1/orders", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUpdateStatus_OpenWhenAuthDisabled(t *testing.T) {
	h, router := newTestHandler(t, nil, nil)
	router.SeedOpen(map[string]string{"A": "5"})

	rec := serve(h, http.MethodPost, "/api/v1/orders/A/status", `{"tableNumber":"5","status":"paid"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, router.IsOpen("A"))

	rec = serve(h, http.MethodPost, "/api/v1/orders/A/status", `{"tableNumber":"5","status":"archived"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus_RequiresCashierToken(t *testing.T) {
	service := newStaff(t)
	h, _ := newTestHandler(t, nil, service)
	body := `{"tableNumber":"5","status":"confirmed"}`

	rec := serve(h, http.MethodPost, "/api/v1/orders/A/status", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	customerToken, err := service.AuthToken.Sign("table-5", "customer")
	require.NoError(t, err)
	rec = serve(h, http.MethodPost, "/api/v1/orders/A/status", body, http.Header{"Authorization": {"Bearer " + customerToken}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h, http.MethodPost, "/api/v1/cashier/session", `{"pin":"2468","desk":"front"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session staff.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = serve(h, http.MethodPost, "/api/v1/orders/A/status", body, http.Header{"Authorization": {"Bearer " + session.Token}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCashierSession(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)
	rec := serve(h, http.MethodPost, "/api/v1/cashier/session", `{"pin":"2468"}`, nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	h, _ = newTestHandler(t, nil, newStaff(t))
	rec = serve(h, http.MethodPost, "/api/v1/cashier/session", `{"pin":"0000"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminBoard(t *testing.T) {
	orders := &fakeOrders{views: []query.OrderView{{
		OrderID:     "order_5_1000",
		TableNumber: "5",
		Status:      contracts.StatusPreparing,
		Items:       []contracts.OrderItem{{ID: "x", Name: "Pizza", Quantity: 2, Price: 1200}},
		Total:       2400,
		CreatedAt:   handlerNow,
		StatusAt:    handlerNow,
	}}}
	h, _ := newTestHandler(t, orders, nil)

	rec := serve(h, http.MethodGet, "/admin", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Pizza")
	assert.Contains(t, rec.Body.String(), "preparing")
}

func TestCORS_LoopbackOriginsAreEquivalent(t *testing.T) {
	h, _ := newTestHandler(t, nil, nil)

	rec := serve(h, http.MethodGet, "/healthz", "", http.Header{"Origin": {"http://127.0.0.1:5173"}})
	assert.Equal(t, "http://127.0.0.1:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(h, http.MethodGet, "/healthz", "", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
