package realtime

import (
	"context"
	"log/slog"
	"time"

	"notesync/api/internal/logging"
	"notesync/api/internal/observability"
)

// Publisher forwards events to other API instances.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

const relayPublishTimeout = 2 * time.Second

// Dispatcher delivers change events to every live connection of the event's
// identity. Delivery is best effort: nothing is queued for absent clients
// and a failed send never reaches the caller.
type Dispatcher struct {
	registry *Registry
	relay    Publisher
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{registry: registry, metrics: metrics, logger: logger}
}

// WithRelay enables cross-instance fan-out.
func (d *Dispatcher) WithRelay(relay Publisher) *Dispatcher {
	d.relay = relay
	return d
}

// Dispatch delivers locally and then hands the event to the relay, if any.
// It returns the number of local connections that accepted the frame.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) int {
	delivered := d.DeliverLocal(event)
	if d.relay == nil {
		return delivered
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relayPublishTimeout)
	defer cancel()
	if err := d.relay.Publish(pubCtx, event); err != nil {
		d.logger.Warn("relay publish failed", "event", event.Type, "identity_id", event.IdentityID, "error", err)
		return delivered
	}
	d.metrics.Delivery(observability.DeliveryRelayed)
	return delivered
}

// DeliverLocal sends the event to the connections registered in this
// process only. The relay subscriber uses it for events from other nodes.
func (d *Dispatcher) DeliverLocal(event Event) int {
	if event.IdentityID == "" {
		return 0
	}
	d.metrics.EventDispatched(string(event.Type))

	members := d.registry.MembersOf(event.IdentityID)
	if len(members) == 0 {
		d.logger.Debug("no live connections for event", "event", event.Type, "identity_id", event.IdentityID)
		return 0
	}
	frame, err := event.Encode()
	if err != nil {
		d.logger.Error("encode event", "event", event.Type, "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range members {
		if err := conn.Send(frame); err != nil {
			d.metrics.Delivery(observability.DeliveryFailed)
			d.logger.Warn("event delivery failed",
				"event", event.Type,
				"identity_id", event.IdentityID,
				"connection_id", conn.ID(),
				"error", err,
			)
			continue
		}
		d.metrics.Delivery(observability.DeliveryOK)
		delivered++
	}
	return delivered
}
