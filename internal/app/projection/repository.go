package projection

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orderbus/project/internal/contracts"
)

const createOrderEventsTableSQL = `
CREATE TABLE IF NOT EXISTS order_events (
  event_id text PRIMARY KEY,
  event_type text NOT NULL,
  order_id text NOT NULL,
  table_number text NOT NULL DEFAULT '',
  status text NOT NULL DEFAULT '',
  items jsonb NOT NULL DEFAULT '[]'::jsonb,
  total double precision NOT NULL DEFAULT 0,
  shard_id integer NOT NULL,
  stream_seq bigint NOT NULL DEFAULT 0,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createOrderEventsOrderIndexSQL = `
CREATE INDEX IF NOT EXISTS order_events_order_id_idx ON order_events (order_id, occurred_at)`

const createOrdersTableSQL = `
CREATE TABLE IF NOT EXISTS orders (
  order_id text PRIMARY KEY,
  table_number text NOT NULL DEFAULT '',
  items jsonb NOT NULL DEFAULT '[]'::jsonb,
  total double precision NOT NULL DEFAULT 0,
  status text NOT NULL,
  created_at timestamptz NOT NULL,
  status_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createOrdersTableIndexSQL = `
CREATE INDEX IF NOT EXISTS orders_table_status_idx ON orders (table_number, status_at DESC)`

const insertOrderEventSQL = `
INSERT INTO order_events (
  event_id, event_type, order_id, table_number, status,
  items, total, shard_id, stream_seq, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
ON CONFLICT (event_id) DO NOTHING
`

// A status event may land before its creation event; the creation fills in
// the order body without touching the status.
const upsertOrderCreatedSQL = `
INSERT INTO orders (order_id, table_number, items, total, status, created_at, status_at)
VALUES ($1, $2, $3::jsonb, $4, 'pending', $5, $5)
ON CONFLICT (order_id) DO UPDATE
SET table_number = CASE WHEN orders.table_number = '' THEN EXCLUDED.table_number ELSE orders.table_number END,
    items = EXCLUDED.items,
    total = EXCLUDED.total,
    created_at = LEAST(orders.created_at, EXCLUDED.created_at),
    updated_at = now()
`

// Only a newer relay timestamp may move the status.
const applyOrderStatusSQL = `
INSERT INTO orders (order_id, table_number, status, created_at, status_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (order_id) DO UPDATE
SET status = EXCLUDED.status,
    status_at = EXCLUDED.status_at,
    table_number = CASE WHEN orders.table_number = '' THEN EXCLUDED.table_number ELSE orders.table_number END,
    updated_at = now()
WHERE orders.status_at <= EXCLUDED.status_at
`

type EventRepository struct {
	Pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{Pool: pool}
}

func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createOrderEventsTableSQL,
		createOrderEventsOrderIndexSQL,
		createOrdersTableSQL,
		createOrdersTableIndexSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvent records the event and folds it into the orders table in one
// transaction. A redelivered event id is acknowledged without reapplying.
func (r *EventRepository) InsertEvent(ctx context.Context, event contracts.OrderEvent, streamSeq uint64) (bool, error) {
	items := event.Items
	if items == nil {
		items = []contracts.OrderItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return false, err
	}
	table := strings.TrimSpace(event.TableNumber)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertOrderEventSQL,
		event.EventID,
		event.EventType,
		event.OrderID,
		table,
		string(event.Status),
		string(itemsJSON),
		event.Total,
		event.ShardID,
		int64(streamSeq),
		event.OccurredAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	switch event.EventType {
	case contracts.OrderEventCreated:
		if _, err := tx.Exec(ctx, upsertOrderCreatedSQL,
			event.OrderID,
			table,
			string(itemsJSON),
			event.Total,
			event.OccurredAt,
		); err != nil {
			return false, err
		}
	case contracts.OrderEventStatusChanged:
		if _, err := tx.Exec(ctx, applyOrderStatusSQL,
			event.OrderID,
			table,
			string(event.Status),
			event.OccurredAt,
		); err != nil {
			return false, err
		}
	default:
		return false, ErrUnsupportedEventType
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
