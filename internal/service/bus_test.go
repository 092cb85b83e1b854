package service

import "testing"

func TestEventBusFiltersByResource(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe()
	premises := bus.Subscribe(ResourcePremises)
	defer bus.Unsubscribe(all)
	defer bus.Unsubscribe(premises)

	bus.Publish(Event{Resource: ResourceProjects, Action: "created", ID: "p1"})
	bus.Publish(Event{Resource: ResourcePremises, Action: "replaced", ProjectID: "p1", Count: 3})

	if len(all) != 2 {
		t.Errorf("unfiltered subscriber got %d events, want 2", len(all))
	}
	if len(premises) != 1 {
		t.Fatalf("locali subscriber got %d events, want 1", len(premises))
	}
	if ev := <-premises; ev.Project() != "p1" || ev.Count != 3 {
		t.Errorf("event = %+v", ev)
	}
	if bus.Subscribers() != 2 {
		t.Errorf("Subscribers = %d", bus.Subscribers())
	}
}

func TestEventBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	for range subscriberBuffer + 3 {
		bus.Publish(Event{Resource: ResourceProjects, Action: "updated", ID: "p1"})
	}
	if bus.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", bus.Dropped())
	}
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received %d buffered events, want %d", received, subscriberBuffer)
	}
	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers = %d", bus.Subscribers())
	}

	var nilBus *EventBus
	nilBus.Publish(Event{Resource: ResourceProjects})
}
