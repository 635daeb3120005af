// Package menu loads the orderable catalog for the customer client.
package menu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/orderbus/project/internal/contracts"
	"go.uber.org/zap"
)

type Dish struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	Category  string   `json:"category"`
	Images    []string `json:"images"`
	Available *bool    `json:"available,omitempty"`
}

// Orderable treats a missing availability flag as available.
func (d Dish) Orderable() bool {
	return d.ID != "" && (d.Available == nil || *d.Available)
}

// Item turns the dish into a cart line.
func (d Dish) Item(quantity int, notes string) contracts.OrderItem {
	return contracts.OrderItem{
		ID:       d.ID,
		Name:     d.Name,
		Quantity: quantity,
		Price:    d.Price,
		Notes:    notes,
	}
}

// Catalog fetches the dish list once per Load. Any failure falls back to
// Static, so the customer can always order something.
type Catalog struct {
	URL    string
	Client *http.Client
	Static []Dish
	Logger *zap.Logger

	mu     sync.RWMutex
	dishes []Dish
}

func NewCatalog(url string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		URL:    strings.TrimSpace(url),
		Client: &http.Client{Timeout: 5 * time.Second},
		Static: StaticDishes(),
		Logger: logger,
	}
}

func (c *Catalog) Load(ctx context.Context) []Dish {
	dishes, err := c.fetch(ctx)
	if err != nil {
		c.Logger.Warn("menu unavailable, using built-in catalog", zap.String("url", c.URL), zap.Error(err))
		dishes = c.Static
	}
	dishes = orderable(dishes)

	c.mu.Lock()
	c.dishes = dishes
	c.mu.Unlock()
	return append([]Dish(nil), dishes...)
}

// Dishes returns the last loaded catalog.
func (c *Catalog) Dishes() []Dish {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Dish(nil), c.dishes...)
}

func (c *Catalog) Lookup(id string) (Dish, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, dish := range c.dishes {
		if dish.ID == id {
			return dish, true
		}
	}
	return Dish{}, false
}

func (c *Catalog) fetch(ctx context.Context) ([]Dish, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("menu url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch menu: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch menu: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dishes []Dish
	if err := json.NewDecoder(resp.Body).Decode(&dishes); err != nil {
		return nil, fmt.Errorf("decode menu: %w", err)
	}
	return dishes, nil
}

func orderable(dishes []Dish) []Dish {
	out := make([]Dish, 0, len(dishes))
	for _, dish := range dishes {
		if dish.Orderable() {
			out = append(out, dish)
		}
	}
	return out
}

// StaticDishes is the built-in catalog.
func StaticDishes() []Dish {
	return []Dish{
		{ID: "margherita", Name: "Margherita Pizza", Price: 1200, Category: "pizza"},
		{ID: "pepperoni", Name: "Pepperoni Pizza", Price: 1400, Category: "pizza"},
		{ID: "caesar", Name: "Caesar Salad", Price: 900, Category: "salad"},
		{ID: "carbonara", Name: "Spaghetti Carbonara", Price: 1300, Category: "pasta"},
		{ID: "tiramisu", Name: "Tiramisu", Price: 700, Category: "dessert"},
		{ID: "lemonade", Name: "Lemonade", Price: 350, Category: "drinks"},
	}
}
