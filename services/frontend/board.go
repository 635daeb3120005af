package frontend

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/orderbus/project/internal/app/query"
)

type BoardData struct {
	Orders      []query.OrderView
	Connections int
	OpenOrders  int
	GeneratedAt time.Time
}

// OrdersBoard renders the admin view of open orders.
func OrdersBoard(data BoardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var sb strings.Builder
		sb.WriteString(`<!doctype html><html lang="en"><head><meta charset="utf-8"/>`)
		sb.WriteString(`<meta http-equiv="refresh" content="10"/>`)
		sb.WriteString(`<title>Open orders</title><link rel="stylesheet" href="/static/board.css"/></head><body>`)
		sb.WriteString(`<header class="board-header"><h1>Open orders</h1><span class="stats">`)
		sb.WriteString(strconv.Itoa(data.OpenOrders))
		sb.WriteString(` open &middot; `)
		sb.WriteString(strconv.Itoa(data.Connections))
		sb.WriteString(` connected &middot; updated `)
		sb.WriteString(templ.EscapeString(data.GeneratedAt.UTC().Format("15:04:05")))
		sb.WriteString(`</span></header>`)
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
		if err := OrderRows(data.Orders).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// OrderRows renders the orders table on its own so it can be patched in place.
func OrderRows(orders []query.OrderView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var sb strings.Builder
		if len(orders) == 0 {
			sb.WriteString(`<div id="orders" class="empty">No open orders.</div>`)
			_, err := io.WriteString(w, sb.String())
			return err
		}

		sb.WriteString(`<table id="orders" class="orders"><thead><tr>`)
		sb.WriteString(`<th>Table</th><th>Order</th><th>Items</th><th>Status</th><th>Placed</th><th class="total">Total</th>`)
		sb.WriteString(`</tr></thead><tbody>`)
		for _, order := range orders {
			sb.WriteString(`<tr data-order-id="`)
			sb.WriteString(templ.EscapeString(order.OrderID))
			sb.WriteString(`"><td>`)
			sb.WriteString(templ.EscapeString(order.TableNumber))
			sb.WriteString(`</td><td><code>`)
			sb.WriteString(templ.EscapeString(shortID(order.OrderID)))
			sb.WriteString(`</code></td><td>`)
			sb.WriteString(templ.EscapeString(itemSummary(order)))
			sb.WriteString(`</td><td><span class="status status-`)
			sb.WriteString(templ.EscapeString(string(order.Status)))
			sb.WriteString(`">`)
			sb.WriteString(templ.EscapeString(string(order.Status)))
			sb.WriteString(`</span></td><td>`)
			sb.WriteString(templ.EscapeString(order.CreatedAt.UTC().Format("15:04")))
			sb.WriteString(`</td><td class="total">`)
			sb.WriteString(strconv.FormatFloat(order.Total, 'f', 2, 64))
			sb.WriteString(`</td></tr>`)
		}
		sb.WriteString(`</tbody></table>`)
		_, err := io.WriteString(w, sb.String())
		return err
	})
}

func shortID(id string) string {
	runes := []rune(id)
	if len(runes) <= 8 {
		return id
	}
	return string(runes[:8])
}

func itemSummary(order query.OrderView) string {
	parts := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		parts = append(parts, strconv.Itoa(item.Quantity)+"× "+item.Name)
	}
	return strings.Join(parts, ", ")
}
