package projection

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/orderbus/project/internal/contracts"
	"github.com/orderbus/project/internal/platform/metrics"
)

var (
	ErrInvalidEventPayload  = errors.New("invalid event payload")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrMissingOrderID       = errors.New("order_id is required")
)

type Repository interface {
	InsertEvent(ctx context.Context, event contracts.OrderEvent, streamSeq uint64) (bool, error)
}

type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

// Handle validates one JetStream payload and persists it. Validation errors are
// permanent; anything else returned is a storage failure worth redelivering.
func (s *Service) Handle(ctx context.Context, payload []byte, streamSeq uint64) error {
	var event contracts.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.ProjectionWrites.WithLabelValues("invalid").Inc()
		return ErrInvalidEventPayload
	}
	if strings.TrimSpace(event.OrderID) == "" || strings.TrimSpace(event.EventID) == "" {
		metrics.ProjectionWrites.WithLabelValues("invalid").Inc()
		return ErrMissingOrderID
	}
	switch event.EventType {
	case contracts.OrderEventCreated, contracts.OrderEventStatusChanged:
	default:
		metrics.ProjectionWrites.WithLabelValues("invalid").Inc()
		return ErrUnsupportedEventType
	}

	applied, err := s.Repository.InsertEvent(ctx, event, streamSeq)
	if err != nil {
		metrics.ProjectionWrites.WithLabelValues("failed").Inc()
		return err
	}
	if !applied {
		metrics.ProjectionWrites.WithLabelValues("duplicate").Inc()
		return nil
	}
	metrics.ProjectionWrites.WithLabelValues("applied").Inc()
	return nil
}

// Permanent reports whether err should terminate the message instead of
// asking for redelivery.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidEventPayload) ||
		errors.Is(err, ErrUnsupportedEventType) ||
		errors.Is(err, ErrMissingOrderID)
}
