package cashier

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orderbus/project/internal/channel"
	"github.com/orderbus/project/internal/contracts"
	"go.uber.org/zap"
)

var ErrUnknownOrder = errors.New("order is not on the board")

// Alerter raises the desktop notification and audio cue for a new order.
type Alerter interface {
	Alert(ctx context.Context, order contracts.Order) error
}

type AlerterFunc func(ctx context.Context, order contracts.Order) error

func (f AlerterFunc) Alert(ctx context.Context, order contracts.Order) error { return f(ctx, order) }

// BoardOrder is an order as the desk currently sees it.
type BoardOrder struct {
	Order     contracts.Order
	Status    contracts.Status
	UpdatedAt string
}

// Board is the desk's working set of orders, keyed by order id. Paid and
// cancelled orders leave the board.
type Board struct {
	mu     sync.RWMutex
	orders map[string]BoardOrder
}

func NewBoard() *Board {
	return &Board{orders: map[string]BoardOrder{}}
}

func (b *Board) Get(orderID string) (BoardOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	order, ok := b.orders[orderID]
	return order, ok
}

// Orders returns the board oldest first by relay timestamp.
func (b *Board) Orders() []BoardOrder {
	b.mu.RLock()
	out := make([]BoardOrder, 0, len(b.orders))
	for _, order := range b.orders {
		out = append(out, order)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order.Timestamp != out[j].Order.Timestamp {
			return out[i].Order.Timestamp < out[j].Order.Timestamp
		}
		return out[i].Order.OrderID < out[j].Order.OrderID
	})
	return out
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

func (b *Board) add(order contracts.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.orders[order.OrderID]; ok {
		existing.Order = order
		b.orders[order.OrderID] = existing
		return
	}
	b.orders[order.OrderID] = BoardOrder{Order: order, Status: contracts.StatusPending, UpdatedAt: order.Timestamp}
}

func (b *Board) setStatus(orderID string, status contracts.Status, at string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status.Terminal() {
		delete(b.orders, orderID)
		return
	}
	order, ok := b.orders[orderID]
	if !ok {
		return
	}
	order.Status = status
	order.UpdatedAt = at
	b.orders[orderID] = order
}

// Desk is one cashier station: it fills the queue and board from the relay and
// turns operator actions into status updates.
type Desk struct {
	Queue        *Queue
	Board        *Board
	Transport    channel.Transport
	Emitter      *channel.Emitter
	Alerter      Alerter
	AlertTimeout time.Duration
	// EchoTimeout bounds how long an action waits for its relay echo. A frame
	// the transport dropped never echoes, and its entry must not swallow a
	// later identical update from another desk.
	EchoTimeout time.Duration
	Logger      *zap.Logger

	mu      sync.Mutex
	pending map[string]echo
}

type echo struct {
	status contracts.Status
	until  time.Time
}

func NewDesk(transport channel.Transport, alerter Alerter, logger *zap.Logger) *Desk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desk{
		Queue:        NewQueue(),
		Board:        NewBoard(),
		Transport:    transport,
		Emitter:      channel.NewEmitter(transport, logger),
		Alerter:      alerter,
		AlertTimeout: 2 * time.Second,
		EchoTimeout:  5 * time.Second,
		Logger:       logger,
		pending:      map[string]echo{},
	}
}

func (d *Desk) Attach() {
	d.Transport.On(contracts.EventOrderNotification, d.handleOrder)
	d.Transport.On(contracts.EventOrderStatusChanged, d.handleStatus)
}

func (d *Desk) handleOrder(data json.RawMessage) {
	var order contracts.Order
	if err := json.Unmarshal(data, &order); err != nil {
		d.Logger.Debug("ignoring malformed order notification", zap.Error(err))
		return
	}
	if order.OrderID == "" {
		order.OrderID = order.ID
	}

	d.Queue.PushNotification(order)
	if order.OrderID != "" {
		d.Board.add(order)
	}
	d.alert(order)
}

func (d *Desk) handleStatus(data json.RawMessage) {
	var update contracts.OrderStatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		d.Logger.Debug("ignoring malformed status update", zap.Error(err))
		return
	}
	d.Board.setStatus(update.OrderID, update.Status, update.Timestamp)

	// The relay echoes this desk's own actions back; those were already
	// resolved locally and must not refill the queue.
	if d.consumeEcho(update.OrderID, update.Status) {
		return
	}
	d.Queue.PushUpdate(update)
}

func (d *Desk) alert(order contracts.Order) {
	if d.Alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.AlertTimeout)
	defer cancel()
	if err := d.Alerter.Alert(ctx, order); err != nil {
		d.Logger.Debug("order alert failed", zap.String("order_id", order.OrderID), zap.Error(err))
	}
}

func (d *Desk) Confirm(orderID string) error {
	return d.act(orderID, contracts.StatusConfirmed, true)
}

func (d *Desk) Reject(orderID string) error {
	return d.act(orderID, contracts.StatusCancelled, true)
}

func (d *Desk) MarkReady(orderID string) error {
	return d.act(orderID, contracts.StatusReady, false)
}

func (d *Desk) Serve(orderID string) error {
	return d.act(orderID, contracts.StatusServed, false)
}

func (d *Desk) ProcessPayment(orderID string) error {
	return d.act(orderID, contracts.StatusPaid, true)
}

// Delete cancels the order and drops it from the board.
func (d *Desk) Delete(orderID string) error {
	return d.act(orderID, contracts.StatusCancelled, true)
}

// act updates the board, emits the status and, for resolving actions, evicts
// the order's queue entries in the same step.
func (d *Desk) act(orderID string, status contracts.Status, resolves bool) error {
	orderID = strings.TrimSpace(orderID)
	current, ok := d.Board.Get(orderID)
	if !ok {
		return ErrUnknownOrder
	}

	d.Board.setStatus(orderID, status, contracts.Stamp(d.Emitter.Now()))
	if d.Transport.Connected() {
		d.expectEcho(orderID, status)
	}
	d.Emitter.UpdateOrderStatus(orderID, current.Order.TableNumber, status)

	if resolves {
		evicted := d.Queue.Evict(orderID)
		d.Logger.Debug("order resolved",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.Int("evicted", evicted),
		)
	}
	return nil
}

func (d *Desk) expectEcho(orderID string, status contracts.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[orderID] = echo{status: status, until: d.Emitter.Now().Add(d.EchoTimeout)}
}

func (d *Desk) consumeEcho(orderID string, status contracts.Status) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	expected, ok := d.pending[orderID]
	if !ok {
		return false
	}
	if d.Emitter.Now().After(expected.until) {
		delete(d.pending, orderID)
		return false
	}
	if expected.status != status {
		return false
	}
	delete(d.pending, orderID)
	return true
}
