package telemetry

import (
	"context"
	"testing"
	"time"
)

func newSyncPublisher(t *testing.T) *EventPublisher {
	t.Helper()
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	return ep
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	ep := newSyncPublisher(t)

	var got []Event
	ep.Subscribe(func(ev Event) { got = append(got, ev) }, nil)

	if err := ep.PublishOrderAdmitted("svc-1", "ord-1", "deploy"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := ep.PublishOrderCompleted("svc-1", "ord-1", "deploy", "SUCCESSFUL"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("delivered = %d, want 2", len(got))
	}
	if got[0].Type != EventTypeOrderAdmitted || got[1].Type != EventTypeOrderCompleted {
		t.Errorf("types = %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("event identity was not stamped")
	}
	if got[0].ServiceID != "svc-1" || got[0].OrderID != "ord-1" {
		t.Errorf("correlation ids = %s/%s", got[0].ServiceID, got[0].OrderID)
	}
}

func TestFailedOrderEventsAreWarnings(t *testing.T) {
	ep := newSyncPublisher(t)

	var warnings []Event
	ep.Subscribe(func(ev Event) { warnings = append(warnings, ev) }, FilterByLevel(EventLevelWarning))

	_ = ep.PublishOrderCompleted("svc-1", "ord-1", "deploy", "SUCCESSFUL")
	_ = ep.PublishOrderCompleted("svc-1", "ord-2", "deploy", "FAILED")
	_ = ep.PublishPowerAction("svc-1", "ord-3", "stop", "FAILED")

	if len(warnings) != 2 {
		t.Fatalf("warnings = %d, want only the failures", len(warnings))
	}
}

func TestSubscriberFilters(t *testing.T) {
	ep := newSyncPublisher(t)

	var mine int
	ep.Subscribe(func(Event) { mine++ }, FilterByServiceID("svc-1"))

	_ = ep.PublishCallbackReceived("svc-1", "deploy", "applied")
	_ = ep.PublishCallbackReceived("svc-2", "deploy", "applied")

	if mine != 1 {
		t.Errorf("deliveries = %d, want 1", mine)
	}
}

func TestDisabledPublisherIsNoOp(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	if err := ep.PublishOrderAdmitted("svc-1", "ord-1", "deploy"); err != nil {
		t.Fatalf("publish on disabled publisher must not error: %v", err)
	}
	if called {
		t.Error("disabled publisher must not deliver")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestAsyncDeliveryAndShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, EnableAsync: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	delivered := make(chan Event, 1)
	ep.Subscribe(func(ev Event) { delivered <- ev }, nil)

	if err := ep.PublishServiceStateChanged("svc-1", "DEPLOYING", "DEPLOY_SUCCESS"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case ev := <-delivered:
		if ev.Type != EventTypeServiceStateChanged {
			t.Errorf("type = %s", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async event never delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
