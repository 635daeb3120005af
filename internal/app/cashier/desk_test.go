package cashier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orderbus/project/internal/channel"
	"github.com/orderbus/project/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string][]channel.Handler
	sent      []contracts.OrderStatusUpdate
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, handlers: map[string][]channel.Handler{}}
}

func (f *fakeTransport) On(event string, handler channel.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], handler)
}

func (f *fakeTransport) OnConnect(func()) {}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Emit(_ string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if update, ok := payload.(contracts.OrderStatusUpdate); ok {
		f.sent = append(f.sent, update)
	}
}

func (f *fakeTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	for _, handler := range f.handlers[event] {
		handler(data)
	}
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDesk(t *testing.T, alerter Alerter) (*Desk, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	desk := NewDesk(transport, alerter, zaptest.NewLogger(t))
	desk.Emitter.Now = func() time.Time { return fixedNow }
	desk.Attach()
	return desk, transport
}

func notification(orderID string) contracts.Order {
	return contracts.Order{
		ID:          orderID,
		OrderID:     orderID,
		TableNumber: "5",
		Items:       []contracts.OrderItem{{ID: "x", Name: "Pizza", Quantity: 2, Price: 1200}},
		Total:       2400,
		Timestamp:   "2026-03-01T11:59:00Z",
	}
}

func TestDesk_QueuesNotificationAndAlerts(t *testing.T) {
	var alerted []string
	desk, transport := newTestDesk(t, AlerterFunc(func(_ context.Context, order contracts.Order) error {
		alerted = append(alerted, order.OrderID)
		return nil
	}))

	transport.deliver(t, contracts.EventOrderNotification, notification("A"))

	require.Len(t, desk.Queue.Notifications(), 1)
	assert.Equal(t, "A", desk.Queue.Notifications()[0].OrderID)
	assert.Equal(t, []string{"A"}, alerted)

	order, ok := desk.Board.Get("A")
	require.True(t, ok)
	assert.Equal(t, contracts.StatusPending, order.Status)
}

func TestDesk_AlertFailureIsSwallowed(t *testing.T) {
	desk, transport := newTestDesk(t, AlerterFunc(func(context.Context, contracts.Order) error {
		return errors.New("notification permission denied")
	}))

	transport.deliver(t, contracts.EventOrderNotification, notification("A"))

	assert.Equal(t, 1, desk.Queue.BadgeCount())
	assert.Equal(t, 1, desk.Board.Len())
}

func TestDesk_ConfirmEmitsAndEvicts(t *testing.T) {
	desk, transport := newTestDesk(t, nil)
	transport.deliver(t, contracts.EventOrderNotification, notification("A"))
	transport.deliver(t, contracts.EventOrderNotification, notification("B"))
	transport.deliver(t, contracts.EventOrderStatusChanged, contracts.OrderStatusUpdate{OrderID: "A", Status: contracts.StatusPending})

	require.NoError(t, desk.Confirm("A"))

	require.Len(t, transport.sent, 1)
	assert.Equal(t, contracts.OrderStatusUpdate{
		OrderID:     "A",
		TableNumber: "5",
		Status:      contracts.StatusConfirmed,
		Timestamp:   "2026-03-01T12:00:00Z",
	}, transport.sent[0])

	assert.Len(t, desk.Queue.Notifications(), 1)
	assert.Equal(t, "B", desk.Queue.Notifications()[0].OrderID)
	assert.Empty(t, desk.Queue.OrderUpdates())

	order, _ := desk.Board.Get("A")
	assert.Equal(t, contracts.StatusConfirmed, order.Status)
}

func TestDesk_OwnEchoDoesNotRefillQueue(t *testing.T) {
	desk, transport := newTestDesk(t, nil)
	transport.deliver(t, contracts.EventOrderNotification, notification("A"))
	require.NoError(t, desk.Confirm("A"))

	transport.deliver(t, contracts.EventOrderStatusChanged, transport.sent[0])
	assert.Equal(t, 0, desk.Queue.BadgeCount())

	// A second copy is someone else's news.
	transport.deliver(t, contracts.EventOrderStatusChanged, transport.sent[0])
	assert.Len(t, desk.Queue.OrderUpdates(), 1)
}

func TestDesk_UnansweredEchoExpires(t *testing.T) {
	desk, transport := newTestDesk(t, nil)
	now := fixedNow
	desk.Emitter.Now = func() time.Time { return now }
	transport.deliver(t, contracts.EventOrderNotification, notification("A"))
	require.NoError(t, desk.Confirm("A"))

	// The confirm frame never reached the relay; another desk confirms later.
	now = now.Add(desk.EchoTimeout + time.Second)
	transport.deliver(t, contracts.EventOrderStatusChanged, contracts.OrderStatusUpdate{
		OrderID: "A", TableNumber: "5", Status: contracts.StatusConfirmed, Timestamp: contracts.Stamp(now),
	})

	require.Len(t, desk.Queue.OrderUpdates(), 1)
	assert.Equal(t, "A", desk.Queue.OrderUpdates()[0].OrderID)
}

func TestDesk_ActionsEmitTheirStatus(t *testing.T) {
	cases := []struct {
		name     string
		act      func(*Desk, string) error
		status   contracts.Status
		resolves bool
	}{
		{"confirm", (*Desk).Confirm, contracts.StatusConfirmed, true},
		{"reject", (*Desk).Reject, contracts.StatusCancelled, true},
		{"mark ready", (*Desk).MarkReady, contracts.StatusReady, false},
		{"serve", (*Desk).Serve, contracts.StatusServed, false},
		{"pay", (*Desk).ProcessPayment, contracts.StatusPaid, true},
		{"delete", (*Desk).Delete, contracts.StatusCancelled, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			desk, transport := newTestDesk(t, nil)
			transport.deliver(t, contracts.EventOrderNotification, notification("A"))

			require.NoError(t, tc.act(desk, "A"))

			require.Len(t, transport.sent, 1)
			assert.Equal(t, tc.status, transport.sent[0].Status)
			if tc.resolves {
				assert.Equal(t, 0, desk.Queue.BadgeCount())
			} else {
				assert.Equal(t, 1, desk.Queue.BadgeCount())
			}
			_, onBoard := desk.Board.Get("A")
			assert.Equal(t, !tc.status.Terminal(), onBoard)
		})
	}
}

func TestDesk_UnknownOrder(t *testing.T) {
	desk, transport := newTestDesk(t, nil)

	assert.ErrorIs(t, desk.ProcessPayment("missing"), ErrUnknownOrder)
	assert.Empty(t, transport.sent)
}

func TestDesk_InboundTerminalStatusLeavesBoard(t *testing.T) {
	desk, transport := newTestDesk(t, nil)
	transport.deliver(t, contracts.EventOrderNotification, notification("A"))
	transport.deliver(t, contracts.EventOrderNotification, notification("B"))

	transport.deliver(t, contracts.EventOrderStatusChanged, contracts.OrderStatusUpdate{OrderID: "A", TableNumber: "5", Status: contracts.StatusPaid})

	assert.Equal(t, 1, desk.Board.Len())
	orders := desk.Board.Orders()
	assert.Equal(t, "B", orders[0].Order.OrderID)
	assert.Len(t, desk.Queue.OrderUpdates(), 1)
}

func TestDesk_DisconnectedActionStillResolvesLocally(t *testing.T) {
	desk, transport := newTestDesk(t, nil)
	transport.deliver(t, contracts.EventOrderNotification, notification("A"))
	transport.connected = false

	require.NoError(t, desk.ProcessPayment("A"))

	assert.Empty(t, transport.sent)
	assert.Equal(t, 0, desk.Queue.BadgeCount())
	assert.Equal(t, 0, desk.Board.Len())
}
