package channel

import (
	"strings"
	"time"

	"github.com/orderbus/project/internal/contracts"
	"go.uber.org/zap"
)

// Emitter packages local actions into events. Nothing it sends is acknowledged,
// and none of its methods fail: a disconnected transport means the event is
// logged and dropped.
type Emitter struct {
	Transport Transport
	Now       func() time.Time
	Logger    *zap.Logger
}

func NewEmitter(transport Transport, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		Transport: transport,
		Now:       func() time.Time { return time.Now().UTC() },
		Logger:    logger,
	}
}

// SendOrder forwards a new order. The caller supplies the id; the relay assigns
// orderId and timestamp.
func (e *Emitter) SendOrder(order contracts.Order) {
	if !e.ready(contracts.EventNewOrder) {
		return
	}
	order.OrderID = ""
	order.Timestamp = ""
	e.Transport.Emit(contracts.EventNewOrder, order)
}

// JoinTable subscribes the connection to a table room. It must be reissued
// after every reconnect.
func (e *Emitter) JoinTable(tableNumber string) {
	tableNumber = strings.TrimSpace(tableNumber)
	if tableNumber == "" {
		return
	}
	if !e.ready(contracts.EventJoinTable) {
		return
	}
	e.Transport.Emit(contracts.EventJoinTable, contracts.JoinTable{TableNumber: tableNumber})
}

// UpdateOrderStatus broadcasts a status change. The local timestamp is
// overwritten by the relay.
func (e *Emitter) UpdateOrderStatus(orderID, tableNumber string, status contracts.Status) {
	if !e.ready(contracts.EventOrderStatusUpdate) {
		return
	}
	e.Transport.Emit(contracts.EventOrderStatusUpdate, contracts.OrderStatusUpdate{
		OrderID:     orderID,
		TableNumber: tableNumber,
		Status:      status,
		Timestamp:   contracts.Stamp(e.Now()),
	})
}

func (e *Emitter) ready(event string) bool {
	if e.Transport == nil || !e.Transport.Connected() {
		e.Logger.Warn("relay disconnected, dropping event", zap.String("event", event))
		return false
	}
	return true
}
