package events

import (
	"testing"
	"time"

	"github.com/nodectl/nodectl/pkg/step"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
	return Event{}
}

func TestStepCompletePublished(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	var n step.Notifier = h
	n.NotifyStepComplete("base-node", step.OutcomeRepeat)

	ev := receive(t, ch)
	if ev.Name != StepComplete {
		t.Fatalf("event name = %q", ev.Name)
	}
	payload, err := DecodeAs[StepCompleteEvent](ev)
	if err != nil {
		t.Fatal(err)
	}
	if payload.Plugin != "base-node" || payload.Outcome != "Repeat" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestMessagesPublished(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Warn("Wrong device", "The connected device is a Pump, not a Base Node.")
	payload, err := DecodeAs[DeviceMessageEvent](receive(t, ch))
	if err != nil {
		t.Fatal(err)
	}
	if payload.Level != "warning" || payload.Title != "Wrong device" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(DeviceState, DeviceStateEvent{State: "Ready"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d", len(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	h.Unsubscribe(ch)

	var nilHub *EventHub
	nilHub.Publish(DeviceState, nil)
}

func TestDecodeEmpty(t *testing.T) {
	v, err := DecodeAs[DeviceStateEvent](Event{Name: DeviceState})
	if err != nil || v != (DeviceStateEvent{}) {
		t.Fatalf("DecodeAs = %+v, %v", v, err)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	h := NewEventHub()
	a, b := h.Subscribe(), h.Subscribe()
	h.Close()
	for _, ch := range []chan Event{a, b} {
		if _, ok := <-ch; ok {
			t.Fatalf("channel should be closed")
		}
	}
	// Unsubscribing after Close must not close twice.
	h.Unsubscribe(a)
}
