package events

import (
	"sync"
	"testing"
	"time"
)

// collector gathers delivered events behind a lock.
type collector struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 64)}
}

func (c *collector) Notify(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *collector) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.events) >= n {
			out := append([]Event(nil), c.events...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.signal:
		case <-deadline:
			c.mu.Lock()
			defer c.mu.Unlock()
			t.Fatalf("timed out waiting for %d events, have %d", n, len(c.events))
		}
	}
}

func TestPublishRoutesByDeployment(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := newCollector()
	b := newCollector()
	bus.Subscribe("dep-a", a)
	bus.Subscribe("dep-b", b)

	bus.Publish(Event{Type: AlertRaised, DeploymentID: "dep-a"})
	got := a.waitFor(t, 1)
	if got[0].Type != AlertRaised || got[0].DeploymentID != "dep-a" {
		t.Errorf("event = %+v", got[0])
	}
	if got[0].At.IsZero() {
		t.Error("publish did not stamp the event time")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) != 0 {
		t.Errorf("dep-b subscriber received %d events for dep-a", len(b.events))
	}
}

func TestWildcardSubscriberSeesEverything(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := newCollector()
	bus.Subscribe(AllDeployments, all)

	bus.Publish(Event{Type: MonitoringStarted, DeploymentID: "dep-a"})
	bus.Publish(Event{Type: RollbackCompleted, DeploymentID: "dep-b"})

	got := all.waitFor(t, 2)
	if got[0].DeploymentID != "dep-a" || got[1].DeploymentID != "dep-b" {
		t.Errorf("events = %+v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	c := newCollector()
	bus.Subscribe("dep-a", c)
	bus.Publish(Event{Type: AlertRaised, DeploymentID: "dep-a"})
	c.waitFor(t, 1)

	bus.Unsubscribe("dep-a", c)
	bus.Publish(Event{Type: AlertRaised, DeploymentID: "dep-a"})

	// The second event may still be in flight briefly; give it a moment.
	time.Sleep(50 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) != 1 {
		t.Errorf("received %d events after unsubscribe, want 1", len(c.events))
	}
}

func TestPublishAfterCloseDoesNotBlock(t *testing.T) {
	bus := NewBus()
	bus.Close()
	bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Type: AlertRaised, DeploymentID: "dep-a"})
		}
		bus.Subscribe("dep-a", newCollector())
		bus.Unsubscribe("dep-a", newCollector())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bus operations blocked after Close")
	}
}
