package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/step"
)

type EventHub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewEventHub() *EventHub { return &EventHub{subs: make(map[chan Event]struct{})} }

func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Close unsubscribes everyone, which ends their streams.
func (h *EventHub) Close() {
	h.mu.Lock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Warn("failed to encode event")
		return
	}
	msg := Event{Name: name, Data: b}
	h.mu.RLock()
	for ch := range h.subs {
		// Non-blocking send; drop if subscriber is slow
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}

// NotifyStepComplete publishes step outcomes, so an EventHub can be used as
// the step notifier of a controller.
func (h *EventHub) NotifyStepComplete(plugin string, outcome step.Outcome) {
	h.Publish(StepComplete, StepCompleteEvent{
		Plugin:  plugin,
		Outcome: string(outcome),
		Ts:      time.Now().Unix(),
	})
}

// Info publishes an informational message for the user.
func (h *EventHub) Info(title, message string) {
	h.message("info", title, message)
}

// Warn publishes a warning for the user.
func (h *EventHub) Warn(title, message string) {
	h.message("warning", title, message)
}

func (h *EventHub) message(level, title, message string) {
	logrus.WithFields(logrus.Fields{"title": title, "level": level}).Info(message)
	h.Publish(DeviceMessage, DeviceMessageEvent{
		Level:   level,
		Title:   title,
		Message: message,
		Ts:      time.Now().Unix(),
	})
}
