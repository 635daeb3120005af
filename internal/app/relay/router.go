package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"github.com/orderbus/project/internal/contracts"
	"github.com/orderbus/project/internal/platform/metrics"
	"github.com/orderbus/project/internal/sharding"
	"go.uber.org/zap"
)

var ErrDuplicateOrderID = errors.New("order id belongs to an open order")

// Audience selects who receives the broadcast copy of every routed event.
type Audience string

const (
	AudienceCashiers Audience = "cashiers"
	AudienceAll      Audience = "all"
)

func ParseAudience(raw string) Audience {
	if strings.EqualFold(strings.TrimSpace(raw), string(AudienceAll)) {
		return AudienceAll
	}
	return AudienceCashiers
}

type PublishFunc func(subject string, payload []byte) error

// Router stamps producer events and fans them out to the broadcast audience
// and the table room. It keeps no history; an event nobody is subscribed to
// is gone.
type Router struct {
	Registry *Registry
	Audience Audience
	Publish  PublishFunc
	Now      func() time.Time
	NewID    func() string
	Logger   *zap.Logger
	// OpenTTL drops open orders that saw no activity for this long, so
	// abandoned orders do not pin their ids forever.
	OpenTTL time.Duration

	mu   sync.Mutex
	open map[string]openOrder
}

type openOrder struct {
	table    string
	activeAt time.Time
}

func NewRouter(registry *Registry, audience Audience, publish PublishFunc, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		Registry: registry,
		Audience: audience,
		Publish:  publish,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    nuid.Next,
		Logger:   logger,
		OpenTTL:  defaultReconcileWindow,
		open:     map[string]openOrder{},
	}
}

// SeedOpen loads orders that were still open when the relay last stopped.
// They count as active from the moment they are seeded.
func (r *Router) SeedOpen(open map[string]string) {
	now := r.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, table := range open {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		r.open[id] = openOrder{table: strings.TrimSpace(table), activeAt: now}
	}
}

func (r *Router) IsOpen(orderID string) bool {
	now := r.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
	_, ok := r.open[strings.TrimSpace(orderID)]
	return ok
}

func (r *Router) OpenCount() int {
	now := r.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
	return len(r.open)
}

func (r *Router) pruneLocked(now time.Time) {
	if r.OpenTTL <= 0 {
		return
	}
	cutoff := now.Add(-r.OpenTTL)
	for id, order := range r.open {
		if order.activeAt.Before(cutoff) {
			delete(r.open, id)
		}
	}
}

func (r *Router) audience() []*Conn {
	if r.Audience == AudienceAll {
		return r.Registry.Everyone()
	}
	return r.Registry.Cashiers()
}

// RouteOrderCreated stamps a new order with the relay clock and fans it out.
// An id that matches a still-open order is rejected; an order without an id
// is forwarded unchanged for the consumers to ignore.
func (r *Router) RouteOrderCreated(order contracts.Order) (contracts.Order, error) {
	order.ID = strings.TrimSpace(order.ID)
	order.TableNumber = strings.TrimSpace(order.TableNumber)

	now := r.Now()
	if order.ID != "" {
		r.mu.Lock()
		r.pruneLocked(now)
		if _, exists := r.open[order.ID]; exists {
			r.mu.Unlock()
			metrics.DuplicateOrders.Inc()
			r.Logger.Warn("rejecting duplicate order id",
				zap.String("order_id", order.ID),
				zap.String("table", order.TableNumber),
			)
			return contracts.Order{}, ErrDuplicateOrderID
		}
		r.open[order.ID] = openOrder{table: order.TableNumber, activeAt: now}
		r.mu.Unlock()
	}

	order.Timestamp = contracts.Stamp(now)
	order.OrderID = order.ID

	r.fanOut(contracts.EventOrderNotification, contracts.EventTableOrderUpdate, order.TableNumber, order)
	r.publish(contracts.OrderEvent{
		EventType:   contracts.OrderEventCreated,
		OrderID:     order.OrderID,
		TableNumber: order.TableNumber,
		Status:      contracts.StatusPending,
		Items:       order.Items,
		Total:       order.Total,
		OccurredAt:  now,
	})
	return order, nil
}

// RouteStatusUpdate overwrites the producer timestamp and fans the update out.
// Statuses are not validated; terminal ones close the order id.
func (r *Router) RouteStatusUpdate(update contracts.OrderStatusUpdate) contracts.OrderStatusUpdate {
	update.OrderID = strings.TrimSpace(update.OrderID)
	update.TableNumber = strings.TrimSpace(update.TableNumber)
	now := r.Now()
	update.Timestamp = contracts.Stamp(now)

	if update.OrderID != "" {
		r.mu.Lock()
		if update.Status.Terminal() {
			delete(r.open, update.OrderID)
		} else if order, ok := r.open[update.OrderID]; ok {
			order.activeAt = now
			r.open[update.OrderID] = order
		}
		r.mu.Unlock()
	}

	r.fanOut(contracts.EventOrderStatusChanged, contracts.EventTableStatusUpdate, update.TableNumber, update)
	r.publish(contracts.OrderEvent{
		EventType:   contracts.OrderEventStatusChanged,
		OrderID:     update.OrderID,
		TableNumber: update.TableNumber,
		Status:      update.Status,
		OccurredAt:  now,
	})
	return update
}

func (r *Router) fanOut(broadcastEvent, roomEvent, tableNumber string, payload any) {
	broadcastFrame, err := contracts.Encode(broadcastEvent, payload)
	if err != nil {
		r.Logger.Error("encode frame failed", zap.String("event", broadcastEvent), zap.Error(err))
		return
	}
	broadcast := deliverAll(broadcastEvent, broadcastFrame, r.audience())

	room := 0
	if tableNumber != "" {
		roomFrame, err := contracts.Encode(roomEvent, payload)
		if err != nil {
			r.Logger.Error("encode frame failed", zap.String("event", roomEvent), zap.Error(err))
			return
		}
		room = deliverAll(roomEvent, roomFrame, r.Registry.Room(tableNumber))
	}

	r.Logger.Debug("event routed",
		zap.String("event", broadcastEvent),
		zap.String("table", tableNumber),
		zap.Int("broadcast", broadcast),
		zap.Int("room", room),
	)
}

// publish hands the event to the projection. Failures are logged; the live
// fan-out has already happened.
func (r *Router) publish(event contracts.OrderEvent) {
	if r.Publish == nil || event.OrderID == "" {
		return
	}
	event.EventID = r.NewID()
	event.ShardID = sharding.GetShardID(event.TableNumber)
	payload, err := json.Marshal(event)
	if err != nil {
		r.Logger.Error("encode order event failed", zap.Error(err))
		return
	}
	if err := r.Publish(sharding.EventSubject(event.TableNumber), payload); err != nil {
		r.Logger.Warn("publish order event failed",
			zap.String("order_id", event.OrderID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}
