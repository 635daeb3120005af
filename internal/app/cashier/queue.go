// Package cashier holds the cashier side of the order bus: the notification
// queue behind the panel and badge, and the desk that acts on orders.
package cashier

import (
	"strings"
	"sync"

	"github.com/orderbus/project/internal/contracts"
)

// Queue keeps two independent newest-first lists. Nothing is de-duplicated:
// a repeated delivery is a repeated entry until cleared or evicted.
type Queue struct {
	mu            sync.Mutex
	notifications []contracts.Order
	updates       []contracts.OrderStatusUpdate
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) PushNotification(order contracts.Order) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notifications = append([]contracts.Order{order}, q.notifications...)
}

func (q *Queue) PushUpdate(update contracts.OrderStatusUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append([]contracts.OrderStatusUpdate{update}, q.updates...)
}

func (q *Queue) Notifications() []contracts.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]contracts.Order(nil), q.notifications...)
}

func (q *Queue) OrderUpdates() []contracts.OrderStatusUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]contracts.OrderStatusUpdate(nil), q.updates...)
}

func (q *Queue) ClearNotifications() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notifications = nil
}

func (q *Queue) ClearOrderUpdates() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = nil
}

func (q *Queue) BadgeCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.notifications) + len(q.updates)
}

// Evict drops every entry for the order from both lists and returns how many
// were removed.
func (q *Queue) Evict(orderID string) int {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	notifications := q.notifications[:0]
	for _, order := range q.notifications {
		if order.OrderID == orderID || order.ID == orderID {
			removed++
			continue
		}
		notifications = append(notifications, order)
	}
	q.notifications = notifications

	updates := q.updates[:0]
	for _, update := range q.updates {
		if update.OrderID == orderID {
			removed++
			continue
		}
		updates = append(updates, update)
	}
	q.updates = updates
	return removed
}
