// Package customer holds the customer side of the order bus: the status
// reducer, the cart, and the wiring that keeps them in step with the relay.
package customer

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orderbus/project/internal/contracts"
	"go.uber.org/zap"
)

const logTailSize = 64

type View string

const (
	ViewMenu   View = "menu"
	ViewOrders View = "orders"
)

type ToastKind string

const (
	ToastServed    ToastKind = "served"
	ToastThankYou  ToastKind = "thank-you"
	ToastCancelled ToastKind = "cancelled"
)

// Notifier shows transient messages to the customer.
type Notifier interface {
	Toast(kind ToastKind, orderID string)
}

type NotifierFunc func(kind ToastKind, orderID string)

func (f NotifierFunc) Toast(kind ToastKind, orderID string) { f(kind, orderID) }

// Project maps a lifecycle status to what the customer sees. Terminal
// statuses never reach the map; anything unrecognised reads as pending.
func Project(status contracts.Status) contracts.DisplayStatus {
	switch status {
	case contracts.StatusConfirmed, contracts.StatusPreparing:
		return contracts.DisplayPreparing
	case contracts.StatusReady, contracts.StatusServed:
		return contracts.DisplayReady
	default:
		return contracts.DisplayPending
	}
}

// Applied is one entry of the retained event log.
type Applied struct {
	OrderID   string
	Status    contracts.Status
	Timestamp time.Time
}

// Tracker folds status updates into the customer's view of their orders.
// Per order the newest relay timestamp wins; a cancellation leaves a
// tombstone and a payment advances a table-wide watermark, so late copies of
// older events are ignored. Updates without a timestamp apply in arrival order.
type Tracker struct {
	mu sync.Mutex

	table      string
	statuses   map[string]contracts.DisplayStatus
	appliedAt  map[string]time.Time
	tombstones map[string]time.Time
	watermark  time.Time
	served     map[string]struct{}
	paid       map[string]struct{}

	cart      []contracts.OrderItem
	confirmed map[string][]contracts.OrderItem
	view      View
	log       []Applied

	notifier Notifier
	logger   *zap.Logger
}

// NewTracker binds the tracker to a table. Updates naming another table are
// ignored; an empty table accepts everything.
func NewTracker(table string, notifier Notifier, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(ToastKind, string) {})
	}
	return &Tracker{
		table:      strings.TrimSpace(table),
		statuses:   map[string]contracts.DisplayStatus{},
		appliedAt:  map[string]time.Time{},
		tombstones: map[string]time.Time{},
		served:     map[string]struct{}{},
		paid:       map[string]struct{}{},
		confirmed:  map[string][]contracts.OrderItem{},
		view:       ViewMenu,
		notifier:   notifier,
		logger:     logger,
	}
}

// Apply folds one update and reports whether it changed anything.
func (t *Tracker) Apply(update contracts.OrderStatusUpdate) bool {
	orderID := strings.TrimSpace(update.OrderID)
	if orderID == "" {
		t.logger.Debug("ignoring status update without order id")
		return false
	}

	t.mu.Lock()
	toast, changed := t.applyLocked(orderID, update)
	t.mu.Unlock()

	if toast != "" {
		t.notifier.Toast(toast, orderID)
	}
	return changed
}

func (t *Tracker) applyLocked(orderID string, update contracts.OrderStatusUpdate) (ToastKind, bool) {
	if table := strings.TrimSpace(update.TableNumber); t.table != "" && table != "" && table != t.table {
		return "", false
	}

	stamp := contracts.ParseStamp(update.Timestamp)
	if t.staleLocked(orderID, stamp) {
		t.logger.Debug("ignoring stale status update",
			zap.String("order_id", orderID),
			zap.String("status", string(update.Status)),
		)
		return "", false
	}

	var toast ToastKind
	switch update.Status {
	case contracts.StatusPaid:
		if _, seen := t.paid[orderID]; seen {
			return "", false
		}
		t.paid[orderID] = struct{}{}
		t.settleLocked(orderID, stamp)
		t.cart = nil
		if len(t.statuses) == 0 {
			t.view = ViewMenu
		}
		if stamp.After(t.watermark) {
			t.watermark = stamp
		}
		toast = ToastThankYou
	case contracts.StatusCancelled:
		_, buried := t.tombstones[orderID]
		delete(t.statuses, orderID)
		delete(t.appliedAt, orderID)
		delete(t.confirmed, orderID)
		delete(t.served, orderID)
		if stamp.After(t.tombstones[orderID]) || !buried {
			t.tombstones[orderID] = stamp
		}
		if buried {
			return "", false
		}
		toast = ToastCancelled
	default:
		t.statuses[orderID] = Project(update.Status)
		if !stamp.IsZero() {
			t.appliedAt[orderID] = stamp
		}
		if update.Status == contracts.StatusServed {
			if _, shown := t.served[orderID]; !shown {
				t.served[orderID] = struct{}{}
				toast = ToastServed
			}
		}
	}

	t.log = append(t.log, Applied{OrderID: orderID, Status: update.Status, Timestamp: stamp})
	if len(t.log) > logTailSize {
		t.log = append([]Applied(nil), t.log[len(t.log)-logTailSize:]...)
	}
	return toast, true
}

// settleLocked clears the table up to a payment. Orders last updated after the
// payment stamp were placed later and survive; an untimed payment clears all.
func (t *Tracker) settleLocked(orderID string, stamp time.Time) {
	newer := func(id string) bool {
		if id == orderID || stamp.IsZero() {
			return false
		}
		last, ok := t.appliedAt[id]
		return ok && last.After(stamp)
	}
	for id := range t.statuses {
		if !newer(id) {
			delete(t.statuses, id)
		}
	}
	for id := range t.confirmed {
		if !newer(id) {
			delete(t.confirmed, id)
		}
	}
	for id := range t.served {
		if !newer(id) {
			delete(t.served, id)
		}
	}
	for id := range t.appliedAt {
		if !newer(id) {
			delete(t.appliedAt, id)
		}
	}
}

func (t *Tracker) staleLocked(orderID string, stamp time.Time) bool {
	tomb, buried := t.tombstones[orderID]
	if stamp.IsZero() {
		// Untimed events cannot be ordered against a cancellation.
		return buried
	}
	if !t.watermark.IsZero() && !stamp.After(t.watermark) {
		return true
	}
	if buried && !stamp.After(tomb) {
		return true
	}
	if last, ok := t.appliedAt[orderID]; ok && stamp.Before(last) {
		return true
	}
	return false
}

// Reconcile folds a server snapshot oldest first. Terminal statuses are only
// applied to orders this tracker knows about, so a stale snapshot of someone
// else's payment cannot wipe the table.
func (t *Tracker) Reconcile(updates []contracts.OrderStatusUpdate) int {
	ordered := append([]contracts.OrderStatusUpdate(nil), updates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return contracts.ParseStamp(ordered[i].Timestamp).Before(contracts.ParseStamp(ordered[j].Timestamp))
	})

	applied := 0
	for _, update := range ordered {
		if update.Status.Terminal() && !t.Tracks(update.OrderID) {
			continue
		}
		if t.Apply(update) {
			applied++
		}
	}
	return applied
}

// Tracks reports whether the order is in the status map or the confirmed list.
func (t *Tracker) Tracks(orderID string) bool {
	orderID = strings.TrimSpace(orderID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.statuses[orderID]; ok {
		return true
	}
	_, ok := t.confirmed[orderID]
	return ok
}

func (t *Tracker) Table() string {
	return t.table
}

func (t *Tracker) Status(orderID string) (contracts.DisplayStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.statuses[strings.TrimSpace(orderID)]
	return status, ok
}

func (t *Tracker) Statuses() map[string]contracts.DisplayStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]contracts.DisplayStatus, len(t.statuses))
	for id, status := range t.statuses {
		out[id] = status
	}
	return out
}

func (t *Tracker) ConfirmedOrders() map[string][]contracts.OrderItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]contracts.OrderItem, len(t.confirmed))
	for id, items := range t.confirmed {
		out[id] = append([]contracts.OrderItem(nil), items...)
	}
	return out
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

func (t *Tracker) SetView(view View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view = view
}

// Log returns the retained tail of applied events, oldest first.
func (t *Tracker) Log() []Applied {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Applied(nil), t.log...)
}

func (t *Tracker) Cart() []contracts.OrderItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]contracts.OrderItem{}, t.cart...)
}

// AddToCart merges lines by dish id.
func (t *Tracker) AddToCart(item contracts.OrderItem) {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.cart {
		if t.cart[i].ID == item.ID && t.cart[i].Notes == item.Notes {
			t.cart[i].Quantity += item.Quantity
			return
		}
	}
	t.cart = append(t.cart, item)
}

// SetQuantity updates a cart line; zero or less removes it.
func (t *Tracker) SetQuantity(itemID string, quantity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.cart {
		if t.cart[i].ID != itemID {
			continue
		}
		if quantity <= 0 {
			t.cart = append(t.cart[:i], t.cart[i+1:]...)
			return
		}
		t.cart[i].Quantity = quantity
		return
	}
}

func (t *Tracker) RemoveFromCart(itemID string) {
	t.SetQuantity(itemID, 0)
}

func (t *Tracker) CartTotal() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return total(t.cart)
}

func total(items []contracts.OrderItem) float64 {
	sum := 0.0
	for _, item := range items {
		sum += item.Price * float64(item.Quantity)
	}
	return sum
}

// checkout takes the cart for submission, leaving it untouched when empty.
func (t *Tracker) checkout() []contracts.OrderItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]contracts.OrderItem(nil), t.cart...)
}

// recordPlaced tracks a submitted order as pending and clears the cart.
func (t *Tracker) recordPlaced(orderID string, items []contracts.OrderItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmed[orderID] = append([]contracts.OrderItem(nil), items...)
	if _, ok := t.statuses[orderID]; !ok {
		t.statuses[orderID] = contracts.DisplayPending
	}
	t.cart = nil
	t.view = ViewOrders
}
