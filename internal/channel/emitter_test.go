package channel

import (
	"testing"
	"time"

	"github.com/orderbus/project/internal/contracts"
)

type emitted struct {
	event   string
	payload any
}

type fakeTransport struct {
	connected bool
	sent      []emitted
}

func (f *fakeTransport) On(string, Handler) {}
func (f *fakeTransport) OnConnect(func())   {}
func (f *fakeTransport) Connected() bool    { return f.connected }
func (f *fakeTransport) Emit(event string, payload any) {
	f.sent = append(f.sent, emitted{event: event, payload: payload})
}

func TestEmitter_UpdateOrderStatusStampsLocally(t *testing.T) {
	transport := &fakeTransport{connected: true}
	emitter := NewEmitter(transport, nil)
	emitter.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	emitter.UpdateOrderStatus("order-1", "5", contracts.StatusConfirmed)

	if len(transport.sent) != 1 {
		t.Fatalf("expected one emitted event, got %d", len(transport.sent))
	}
	got := transport.sent[0]
	if got.event != contracts.EventOrderStatusUpdate {
		t.Fatalf("unexpected event: %q", got.event)
	}
	update, ok := got.payload.(contracts.OrderStatusUpdate)
	if !ok {
		t.Fatalf("unexpected payload type %T", got.payload)
	}
	if update.OrderID != "order-1" || update.TableNumber != "5" || update.Status != contracts.StatusConfirmed || update.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected payload: %+v", update)
	}
}

func TestEmitter_SendOrderStripsRelayFields(t *testing.T) {
	transport := &fakeTransport{connected: true}
	emitter := NewEmitter(transport, nil)

	emitter.SendOrder(contracts.Order{ID: "o1", OrderID: "spoofed", TableNumber: "5", Timestamp: "yesterday", Total: 10})

	order := transport.sent[0].payload.(contracts.Order)
	if order.OrderID != "" || order.Timestamp != "" || order.ID != "o1" {
		t.Fatalf("unexpected order payload: %+v", order)
	}
}

func TestEmitter_DisconnectedIsNoop(t *testing.T) {
	transport := &fakeTransport{connected: false}
	emitter := NewEmitter(transport, nil)

	emitter.UpdateOrderStatus("order-1", "5", contracts.StatusPaid)
	emitter.SendOrder(contracts.Order{ID: "o1", TableNumber: "5"})
	emitter.JoinTable("5")

	if len(transport.sent) != 0 {
		t.Fatalf("expected nothing emitted while disconnected, got %+v", transport.sent)
	}
}

func TestEmitter_JoinTableSkipsBlankLabel(t *testing.T) {
	transport := &fakeTransport{connected: true}
	emitter := NewEmitter(transport, nil)

	emitter.JoinTable("   ")
	emitter.JoinTable(" 7 ")

	if len(transport.sent) != 1 {
		t.Fatalf("expected one join, got %d", len(transport.sent))
	}
	join := transport.sent[0].payload.(contracts.JoinTable)
	if join.TableNumber != "7" {
		t.Fatalf("unexpected table: %q", join.TableNumber)
	}
}
