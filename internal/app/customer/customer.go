package customer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orderbus/project/internal/channel"
	"github.com/orderbus/project/internal/contracts"
	"go.uber.org/zap"
)

var (
	ErrTableRequired = errors.New("table number is required")
	ErrEmptyCart     = errors.New("cart is empty")
	ErrDisconnected  = errors.New("not connected to the relay")
)

// Reconciler fetches the server's view of a table's recent orders.
type Reconciler interface {
	Reconcile(ctx context.Context, tableNumber string) ([]contracts.OrderStatusUpdate, error)
}

// Customer is one customer session at a table: a tracker kept in step with
// the relay, plus the order submission path.
type Customer struct {
	Tracker          *Tracker
	Transport        channel.Transport
	Emitter          *channel.Emitter
	Reconciler       Reconciler
	ReconcileTimeout time.Duration
	NewID            func() string
	Logger           *zap.Logger
}

func New(tracker *Tracker, transport channel.Transport, reconciler Reconciler, logger *zap.Logger) *Customer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Customer{
		Tracker:          tracker,
		Transport:        transport,
		Emitter:          channel.NewEmitter(transport, logger),
		Reconciler:       reconciler,
		ReconcileTimeout: 5 * time.Second,
		NewID:            uuid.NewString,
		Logger:           logger,
	}
}

// Attach subscribes the tracker to both status events and re-joins the table
// after every connect. The room copy and the broadcast copy of one update fold
// to the same state.
func (c *Customer) Attach() {
	c.Transport.On(contracts.EventTableStatusUpdate, c.handleStatus)
	c.Transport.On(contracts.EventOrderStatusChanged, c.handleStatus)
	c.Transport.OnConnect(c.onConnect)
}

func (c *Customer) handleStatus(data json.RawMessage) {
	var update contracts.OrderStatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		c.Logger.Debug("ignoring malformed status update", zap.Error(err))
		return
	}
	c.Tracker.Apply(update)
}

func (c *Customer) onConnect() {
	table := c.Tracker.Table()
	if table == "" {
		return
	}
	c.Emitter.JoinTable(table)
	if c.Reconciler != nil {
		go c.reconcile(table)
	}
}

func (c *Customer) reconcile(table string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ReconcileTimeout)
	defer cancel()

	updates, err := c.Reconciler.Reconcile(ctx, table)
	if err != nil {
		c.Logger.Warn("order reconciliation failed", zap.String("table", table), zap.Error(err))
		return
	}
	applied := c.Tracker.Reconcile(updates)
	c.Logger.Debug("orders reconciled",
		zap.String("table", table),
		zap.Int("received", len(updates)),
		zap.Int("applied", applied),
	)
}

// PlaceOrder submits the cart. Only local checks can fail; the cart is kept
// whenever an error is returned.
func (c *Customer) PlaceOrder() (string, error) {
	table := strings.TrimSpace(c.Tracker.Table())
	if table == "" {
		return "", ErrTableRequired
	}
	items := c.Tracker.checkout()
	if len(items) == 0 {
		return "", ErrEmptyCart
	}
	if !c.Transport.Connected() {
		return "", ErrDisconnected
	}

	orderID := c.NewID()
	c.Emitter.SendOrder(contracts.Order{
		ID:          orderID,
		TableNumber: table,
		Items:       items,
		Total:       total(items),
	})
	c.Tracker.recordPlaced(orderID, items)
	return orderID, nil
}
