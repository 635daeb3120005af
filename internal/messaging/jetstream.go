package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	OrderEventsStream = "ORDER_EVENTS"
	OrderEventsFilter = "app.event.>"
)

// EnsureStreams creates (or validates) the order event stream. Events are kept
// for a day so a restarted projection can catch up; the relay itself never
// replays from it.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(OrderEventsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      OrderEventsStream,
			Subjects:  []string{OrderEventsFilter},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    24 * time.Hour,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
