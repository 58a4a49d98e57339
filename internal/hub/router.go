package hub

import (
	"context"
	"encoding/json"
	"log"

	"state-sync-plane/backend/internal/event"
	"state-sync-plane/backend/internal/telemetry"
)

// Mirror receives a copy of every emitted Update event, best-effort. The
// Kafka firehose implements it; nil disables mirroring.
type Mirror interface {
	Publish(ctx context.Context, accountID string, payload []byte) error
}

// Router fans events out to the live connections selected by a recipient
// filter. Delivery is synchronous, at-most-once and best-effort per
// connection: a failed push is logged, never retried. Durable clients
// reconcile through the seq-based catch-up pull.
type Router struct {
	registry *Registry
	mirror   Mirror
	metrics  *telemetry.Metrics
}

// NewRouter returns a router over registry. mirror and metrics may be nil.
func NewRouter(registry *Registry, mirror Mirror, metrics *telemetry.Metrics) *Router {
	return &Router{registry: registry, mirror: mirror, metrics: metrics}
}

// EmitUpdate pushes a sequenced Update envelope to the matching connections
// and mirrors it to the firehose. exclude suppresses the sender's own echo
// and may be nil.
func (r *Router) EmitUpdate(ctx context.Context, accountID string, u event.Update, filter RecipientFilter, exclude *Connection) {
	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("hub: marshal update %s: %v", u.Body.UpdateKind(), err)
		return
	}
	r.metrics.UpdateEmitted(ctx, u.Body.UpdateKind())
	if r.mirror != nil {
		if err := r.mirror.Publish(ctx, accountID, payload); err != nil {
			log.Printf("hub: firehose publish failed (dropped): %v", err)
		}
	}
	r.push(ctx, accountID, payload, filter, exclude)
}

// EmitEphemeral pushes a transient event to the matching connections. It is
// never sequenced, mirrored, or persisted.
func (r *Router) EmitEphemeral(ctx context.Context, accountID string, e event.Ephemeral, filter RecipientFilter, exclude *Connection) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("hub: marshal ephemeral %s: %v", e.EphemeralKind(), err)
		return
	}
	r.push(ctx, accountID, payload, filter, exclude)
}

func (r *Router) push(ctx context.Context, accountID string, payload []byte, filter RecipientFilter, exclude *Connection) {
	conns := r.registry.ConnectionsOf(accountID)
	if len(conns) == 0 {
		// No live recipients is a normal condition, not an error.
		return
	}
	var delivered int64
	for _, c := range conns {
		if c == exclude || !filter.Matches(c) {
			continue
		}
		if err := c.sink.Send(payload); err != nil {
			r.metrics.DeliveryFailed(ctx)
			log.Printf("hub: push to %s connection failed (dropped): %v", c.Scope, err)
			continue
		}
		delivered++
	}
	r.metrics.Delivered(ctx, delivered)
}
