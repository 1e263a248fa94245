package connection

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// Handler receives application frames for a subscribed event type.
type Handler interface {
	HandleEvent(Frame) error
}

// HandlerFunc is a function adapter for Handler.
// Function values are not comparable, so subscribe them with OnFunc and keep
// the returned unsubscribe function.
type HandlerFunc func(Frame) error

func (f HandlerFunc) HandleEvent(fr Frame) error {
	return f(fr)
}

// funcHandler gives each OnFunc registration its own identity.
type funcHandler struct {
	fn func(Frame) error
}

func (h *funcHandler) HandleEvent(fr Frame) error {
	return h.fn(fr)
}

// Dispatcher fans application frames out to handlers by event type,
// independent of the connection that produced them.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]map[Handler]struct{} // event type -> handler set
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Pass nil logger for default.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]map[Handler]struct{}),
		logger:   logger.With("component", "dispatcher"),
	}
}

// On registers h for eventType and returns a function that removes it.
// Registering the same handler twice stores it once, except for handlers
// whose dynamic type is not comparable (such as HandlerFunc): each call
// stores a separate registration that only the returned function removes.
func (d *Dispatcher) On(eventType string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	if !reflect.TypeOf(h).Comparable() {
		h = &funcHandler{fn: h.HandleEvent}
	}

	d.mu.Lock()
	set, ok := d.handlers[eventType]
	if !ok {
		set = make(map[Handler]struct{})
		d.handlers[eventType] = set
	}
	set[h] = struct{}{}
	d.mu.Unlock()

	return func() { d.Off(eventType, h) }
}

// OnFunc registers fn for eventType. Each call is a distinct subscription.
func (d *Dispatcher) OnFunc(eventType string, fn func(Frame) error) func() {
	if fn == nil {
		return func() {}
	}
	return d.On(eventType, &funcHandler{fn: fn})
}

// Off removes h from eventType. Removing an absent handler is a no-op.
// The (possibly empty) set is kept. Handlers that are not comparable cannot
// be matched; use the function returned by On instead.
func (d *Dispatcher) Off(eventType string, h Handler) {
	if h == nil {
		return
	}
	if !reflect.TypeOf(h).Comparable() {
		d.logger.Debug("off ignored for uncomparable handler",
			"event", eventType,
			"type", fmt.Sprintf("%T", h),
		)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if set, ok := d.handlers[eventType]; ok {
		delete(set, h)
	}
}

// Count returns the number of handlers subscribed to eventType.
func (d *Dispatcher) Count(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

// Dispatch calls every handler subscribed to the frame's event type.
// Each call is guarded: a failing handler never stops its siblings.
func (d *Dispatcher) Dispatch(fr Frame) {
	if fr.Event == "" {
		return
	}

	d.mu.RLock()
	set := d.handlers[fr.Event]
	targets := make([]Handler, 0, len(set))
	for h := range set {
		targets = append(targets, h)
	}
	d.mu.RUnlock()

	for _, h := range targets {
		if err := invoke(h, fr); err != nil {
			d.logger.Warn("event handler failed",
				"event", fr.Event,
				"error", err,
			)
		}
	}
}

// invoke runs a handler, converting a panic into an error.
func invoke(h Handler, fr Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleEvent(fr)
}
