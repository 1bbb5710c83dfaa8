package handlers

import "testing"

func TestEventBus_BroadcastScopedToUsername(t *testing.T) {
	eb := NewEventBus()
	ch := eb.Subscribe()
	defer eb.Unsubscribe(ch)

	eb.Broadcast("config_changed", "alice")

	select {
	case evt := <-ch:
		if evt.Name != "config_changed" || evt.Username != "alice" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	eb := NewEventBus()
	ch := eb.Subscribe()
	eb.Unsubscribe(ch)

	eb.Broadcast("config_changed", "alice")

	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("expected no delivery after unsubscribe, got %+v", evt)
		}
	default:
	}
}
