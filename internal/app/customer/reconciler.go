package customer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orderbus/project/internal/contracts"
)

// RESTReconciler reads a table's recent orders from the relay's REST surface.
type RESTReconciler struct {
	BaseURL string
	Client  *http.Client
}

func NewRESTReconciler(baseURL string) *RESTReconciler {
	return &RESTReconciler{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type tableOrdersResponse struct {
	Orders []struct {
		OrderID     string           `json:"orderId"`
		TableNumber string           `json:"tableNumber"`
		Status      contracts.Status `json:"status"`
		StatusAt    time.Time        `json:"statusAt"`
	} `json:"orders"`
}

func (r *RESTReconciler) Reconcile(ctx context.Context, tableNumber string) ([]contracts.OrderStatusUpdate, error) {
	endpoint := r.BaseURL + "/api/v1/tables/" + url.PathEscape(strings.TrimSpace(tableNumber)) + "/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch table orders: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch table orders: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded tableOrdersResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode table orders: %w", err)
	}

	updates := make([]contracts.OrderStatusUpdate, 0, len(decoded.Orders))
	for _, order := range decoded.Orders {
		updates = append(updates, contracts.OrderStatusUpdate{
			OrderID:     order.OrderID,
			TableNumber: order.TableNumber,
			Status:      order.Status,
			Timestamp:   contracts.Stamp(order.StatusAt),
		})
	}
	return updates, nil
}
