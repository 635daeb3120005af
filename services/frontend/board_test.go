package frontend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orderbus/project/internal/app/query"
	"github.com/orderbus/project/internal/contracts"
)

func TestOrdersBoard_EscapesUserInput(t *testing.T) {
	var buf bytes.Buffer
	err := OrdersBoard(BoardData{
		Orders: []query.OrderView{{
			OrderID:     "0b9d2f7e-aaaa-bbbb-cccc-000000000001",
			TableNumber: `<script>alert(1)</script>`,
			Items:       []contracts.OrderItem{{ID: "x", Name: "Pizza", Quantity: 2, Price: 1200}},
			Total:       2400,
			Status:      contracts.StatusConfirmed,
		}},
		Connections: 3,
		OpenOrders:  1,
		GeneratedAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}).Render(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	html := buf.String()
	if strings.Contains(html, "<script>") {
		t.Fatalf("table label was not escaped: %s", html)
	}
	for _, want := range []string{"0b9d2f7e", "2× Pizza", "status-confirmed", "2400.00", "3 connected", "12:30:00"} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in board, got %s", want, html)
		}
	}
}

func TestOrderRows_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := OrderRows(nil).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "No open orders.") {
		t.Fatalf("unexpected empty board: %s", buf.String())
	}
}

func TestShortID_KeepsRunesWhole(t *testing.T) {
	cases := map[string]string{
		"0b9d2f7e-aaaa-bbbb": "0b9d2f7e",
		"日本語のテーブル番号":         "日本語のテーブル",
		"short":              "short",
	}
	for id, want := range cases {
		if got := shortID(id); got != want {
			t.Fatalf("shortID(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestAssetsHandler(t *testing.T) {
	handler := AssetsHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/board.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected stylesheet, got status %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=600" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css") {
		t.Fatalf("unexpected Content-Type %q", rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("directory listing should be refused, got status %d", rec.Code)
	}
}
