// Package events provides the in-process event hub between the prediction core and its downstream
// consumers (audit log, notifiers, live streams). The core never calls those consumers directly.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType names one kind of event.
type EventType string

const (
	// SignalDetected is emitted for every signal record with detected=true.
	SignalDetected EventType = "signal_detected"

	// SignalAbsent is emitted for every evaluated signal record with detected=false.
	SignalAbsent EventType = "signal_absent"

	// ActionRequired is emitted when a prediction's urgency is above routine.
	ActionRequired EventType = "action_required"

	// PredictionComplete is emitted once per prediction, after it is fully built.
	PredictionComplete EventType = "prediction_complete"
)

// AllEventTypes lists the canonical event kinds.
func AllEventTypes() []EventType {
	return []EventType{SignalDetected, SignalAbsent, ActionRequired, PredictionComplete}
}

// Event is what a handler receives.
type Event struct {
	Type       EventType `json:"type"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Handler handles one event. A returned error is logged and does not affect other handlers.
type Handler func(ctx context.Context, evt Event) error

// HandlerID identifies a registration for Unregister.
type HandlerID uint64

type registration struct {
	id      HandlerID
	name    string
	handler Handler
}

// Dispatcher maps event types to ordered handler lists.
//
// The registry is meant to be populated once at startup. Register and Unregister are serialized
// with Emit, but registering while predictions are in flight means those predictions may or may
// not see the new handler.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]registration
	nextID   HandlerID
	logger   *logrus.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[EventType][]registration),
		logger:   logger,
	}
}

// Register appends a handler for the event type and returns its ID.
func (d *Dispatcher) Register(eventType EventType, name string, handler Handler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.handlers[eventType] = append(d.handlers[eventType], registration{id: id, name: name, handler: handler})

	d.logger.WithFields(logrus.Fields{
		"event_type": eventType,
		"handler":    name,
	}).Debug("Event handler registered")

	return id
}

// Unregister removes the handler with the given ID. It reports whether a handler was removed.
func (d *Dispatcher) Unregister(id HandlerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for eventType, regs := range d.handlers {
		for i, r := range regs {
			if r.id != id {
				continue
			}
			kept := make([]registration, 0, len(regs)-1)
			kept = append(kept, regs[:i]...)
			kept = append(kept, regs[i+1:]...)
			if len(kept) == 0 {
				delete(d.handlers, eventType)
			} else {
				d.handlers[eventType] = kept
			}
			return true
		}
	}
	return false
}

// HandlerCount returns the number of handlers registered for the event type.
func (d *Dispatcher) HandlerCount(eventType EventType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

// Emit calls every handler registered for the event type in registration order. Handler errors and
// panics are logged per handler and never reach the caller. It returns the number of handlers that
// failed.
func (d *Dispatcher) Emit(ctx context.Context, eventType EventType, payload any) int {
	d.mu.RLock()
	regs := d.handlers[eventType]
	d.mu.RUnlock()

	if len(regs) == 0 {
		return 0
	}

	evt := Event{Type: eventType, Payload: payload, OccurredAt: time.Now()}
	failed := 0
	for _, r := range regs {
		if err := d.invoke(ctx, r, evt); err != nil {
			failed++
			d.logger.WithFields(logrus.Fields{
				"event_type": eventType,
				"handler":    r.name,
			}).WithError(err).Error("Event handler failed")
		}
	}
	return failed
}

func (d *Dispatcher) invoke(ctx context.Context, r registration, evt Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return r.handler(ctx, evt)
}
