package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orderbus/project/internal/contracts"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderView struct {
	OrderID     string                `json:"orderId"`
	TableNumber string                `json:"tableNumber"`
	Items       []contracts.OrderItem `json:"items"`
	Total       float64               `json:"total"`
	Status      contracts.Status      `json:"status"`
	CreatedAt   time.Time             `json:"createdAt"`
	StatusAt    time.Time             `json:"statusAt"`
}

// StatusUpdate renders the view as the status event the relay would have sent.
func (v OrderView) StatusUpdate() contracts.OrderStatusUpdate {
	return contracts.OrderStatusUpdate{
		OrderID:     v.OrderID,
		TableNumber: v.TableNumber,
		Status:      v.Status,
		Timestamp:   contracts.Stamp(v.StatusAt),
	}
}

type OrderRepository struct {
	Pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{Pool: pool}
}

const orderColumns = `order_id, table_number, items, total, status, created_at, status_at`

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

// ListTableOrders returns the table's orders whose status moved at or after
// since, terminal ones included, newest first.
func (r *OrderRepository) ListTableOrders(ctx context.Context, tableNumber string, since time.Time, limit int) ([]OrderView, error) {
	limit = normalizeLimit(limit)
	rows, err := r.Pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE table_number = $1 AND status_at >= $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		strings.TrimSpace(tableNumber), since, limit,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return []OrderView{}, nil
		}
		return nil, err
	}
	return collectOrders(rows, limit)
}

// ListOpenOrders returns orders that are neither paid nor cancelled.
func (r *OrderRepository) ListOpenOrders(ctx context.Context, limit int) ([]OrderView, error) {
	limit = normalizeLimit(limit)
	rows, err := r.Pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status NOT IN ('paid', 'cancelled')
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		if isUndefinedTable(err) {
			// Projection schema is not available yet.
			return []OrderView{}, nil
		}
		return nil, err
	}
	return collectOrders(rows, limit)
}

// OpenOrderTables maps every open order id to its table. The relay seeds its
// duplicate-id index from it at startup.
func (r *OrderRepository) OpenOrderTables(ctx context.Context) (map[string]string, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT order_id, table_number
		 FROM orders
		 WHERE status NOT IN ('paid', 'cancelled')`,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	type openOrder struct {
		OrderID     string
		TableNumber string
	}
	open, err := pgx.CollectRows(rows, pgx.RowToStructByPos[openOrder])
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(open))
	for _, order := range open {
		out[order.OrderID] = order.TableNumber
	}
	return out, nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (OrderView, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE order_id = $1`,
		strings.TrimSpace(orderID),
	)
	if err != nil {
		if isUndefinedTable(err) {
			return OrderView{}, ErrOrderNotFound
		}
		return OrderView{}, err
	}
	orders, err := collectOrders(rows, 1)
	if err != nil {
		return OrderView{}, err
	}
	if len(orders) == 0 {
		return OrderView{}, ErrOrderNotFound
	}
	return orders[0], nil
}

func collectOrders(rows pgx.Rows, capacity int) ([]OrderView, error) {
	defer rows.Close()

	result := make([]OrderView, 0, capacity)
	for rows.Next() {
		var (
			v        OrderView
			rawItems []byte
			status   string
		)
		if err := rows.Scan(
			&v.OrderID,
			&v.TableNumber,
			&rawItems,
			&v.Total,
			&status,
			&v.CreatedAt,
			&v.StatusAt,
		); err != nil {
			return nil, err
		}
		v.Status = contracts.Status(status)
		if len(rawItems) > 0 {
			if err := json.Unmarshal(rawItems, &v.Items); err != nil {
				return nil, err
			}
		}
		if v.Items == nil {
			v.Items = []contracts.OrderItem{}
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
