package contracts

import (
	"encoding/json"
	"strings"
	"time"
)

// Event names carried in the "event" field of every socket frame.
const (
	EventJoinTable          = "join-table"
	EventNewOrder           = "new-order"
	EventOrderNotification  = "order-notification"
	EventTableOrderUpdate   = "table-order-update"
	EventOrderStatusUpdate  = "order-status-update"
	EventOrderStatusChanged = "order-status-changed"
	EventTableStatusUpdate  = "table-status-update"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusServed    Status = "served"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists the statuses producers are allowed to emit.
var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusServed,
	StatusPaid,
	StatusCancelled,
}

// Terminal reports whether the status closes an order.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// DisplayStatus is the coarse status a customer sees for an order.
type DisplayStatus string

const (
	DisplayPending   DisplayStatus = "pending"
	DisplayPreparing DisplayStatus = "preparing"
	DisplayReady     DisplayStatus = "ready"
)

type OrderItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Notes    string  `json:"notes,omitempty"`
}

// Order is the new-order payload. OrderID and Timestamp are filled in by the relay.
type Order struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"orderId,omitempty"`
	TableNumber string      `json:"tableNumber"`
	Items       []OrderItem `json:"items"`
	Total       float64     `json:"total"`
	Timestamp   string      `json:"timestamp,omitempty"`
}

// OrderStatusUpdate is the only event that moves an order through its lifecycle.
type OrderStatusUpdate struct {
	OrderID     string `json:"orderId"`
	TableNumber string `json:"tableNumber"`
	Status      Status `json:"status"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type JoinTable struct {
	TableNumber string `json:"tableNumber"`
}

// Envelope is the frame format on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event and payload into a single frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// StampFormat is the layout of relay-assigned timestamps.
const StampFormat = time.RFC3339Nano

func Stamp(t time.Time) string {
	return t.UTC().Format(StampFormat)
}

// ParseStamp returns the zero time for missing or unparseable timestamps.
func ParseStamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// OrderEvent is the record published to JetStream for every routed event.
type OrderEvent struct {
	EventID     string      `json:"event_id"`
	EventType   string      `json:"event_type"`
	OrderID     string      `json:"order_id"`
	TableNumber string      `json:"table_number"`
	Status      Status      `json:"status,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
	Total       float64     `json:"total,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
	ShardID     int         `json:"shard_id"`
}

const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
)
