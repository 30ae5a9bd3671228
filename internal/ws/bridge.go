package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/splax/rollout/internal/events"
)

// Bridge forwards control-plane events from the in-process bus onto hub
// streams, so websocket and SSE clients see the same events the
// orchestrator subscribes to.
type Bridge struct {
	hub *Hub
	bus *events.Bus
	log *slog.Logger
	sub events.Subscriber
}

// NewBridge wires a bus to a hub and starts forwarding.
func NewBridge(bus *events.Bus, hub *Hub, logger *slog.Logger) *Bridge {
	b := &Bridge{hub: hub, bus: bus, log: logger}
	b.sub = events.SubscriberFunc(b.forward)
	bus.Subscribe(events.AllDeployments, b.sub)
	return b
}

func (b *Bridge) forward(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		if b.log != nil {
			b.log.Warn("event marshal failed", "type", event.Type, "error", err)
		}
		return
	}
	b.hub.Broadcast(event.DeploymentID, payload)
}

// Close stops forwarding.
func (b *Bridge) Close() {
	b.bus.Unsubscribe(events.AllDeployments, b.sub)
}
