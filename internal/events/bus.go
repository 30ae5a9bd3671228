// Package events provides the in-process publish/subscribe channel between
// the control plane and the deployment orchestrator or operator tooling.
package events

import (
	"sync"
	"time"
)

// Type names an exposed control-plane event.
type Type string

// Event types published by the control plane.
const (
	MonitoringStarted Type = "monitoring:started"
	MonitoringStopped Type = "monitoring:stopped"
	HealthDegraded    Type = "health:degraded"
	AlertRaised       Type = "alert"
	RollbackStarted   Type = "rollback-started"
	RollbackAction    Type = "rollback-action:started"
	RollbackActionOK  Type = "rollback-action:completed"
	RollbackCompleted Type = "rollback-completed"
	RollbackFailed    Type = "rollback-failed"
)

// Event is one published notification.
type Event struct {
	Type         Type      `json:"type"`
	DeploymentID string    `json:"deployment_id"`
	At           time.Time `json:"at"`
	Payload      any       `json:"payload,omitempty"`
}

// Subscriber receives events. Implementations must not block; slow consumers
// should buffer internally.
type Subscriber interface {
	Notify(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event)

// Notify calls f.
func (f SubscriberFunc) Notify(e Event) { f(e) }

// AllDeployments subscribes a consumer to every deployment's events.
const AllDeployments = "*"

// Bus fans events out to subscribers keyed by deployment ID. The consumer
// map is owned by the run goroutine; callers interact via channels only.
type Bus struct {
	consumers map[string]map[Subscriber]struct{}
	publish   chan Event
	subscribe chan subscription
	unsub     chan subscription
	done      chan struct{}
	closeOnce sync.Once
}

type subscription struct {
	deploymentID string
	consumer     Subscriber
}

// NewBus creates a running Bus.
func NewBus() *Bus {
	b := &Bus{
		consumers: make(map[string]map[Subscriber]struct{}),
		publish:   make(chan Event, 64),
		subscribe: make(chan subscription),
		unsub:     make(chan subscription),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for {
		select {
		case <-b.done:
			return
		case sub := <-b.subscribe:
			if _, ok := b.consumers[sub.deploymentID]; !ok {
				b.consumers[sub.deploymentID] = make(map[Subscriber]struct{})
			}
			b.consumers[sub.deploymentID][sub.consumer] = struct{}{}
		case sub := <-b.unsub:
			if consumers, ok := b.consumers[sub.deploymentID]; ok {
				delete(consumers, sub.consumer)
				if len(consumers) == 0 {
					delete(b.consumers, sub.deploymentID)
				}
			}
		case event := <-b.publish:
			for consumer := range b.consumers[event.DeploymentID] {
				consumer.Notify(event)
			}
			if event.DeploymentID != AllDeployments {
				for consumer := range b.consumers[AllDeployments] {
					consumer.Notify(event)
				}
			}
		}
	}
}

// Subscribe registers a consumer for one deployment's events, or for all
// deployments when deploymentID is AllDeployments.
func (b *Bus) Subscribe(deploymentID string, consumer Subscriber) {
	select {
	case b.subscribe <- subscription{deploymentID: deploymentID, consumer: consumer}:
	case <-b.done:
	}
}

// Unsubscribe removes a consumer.
func (b *Bus) Unsubscribe(deploymentID string, consumer Subscriber) {
	select {
	case b.unsub <- subscription{deploymentID: deploymentID, consumer: consumer}:
	case <-b.done:
	}
}

// Publish delivers an event to subscribers. Events published after Close are
// dropped.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case b.publish <- event:
	case <-b.done:
	}
}

// Close stops the fan-out loop.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
