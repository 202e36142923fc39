package webhook

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes one webhook delivery. Handlers that need to wait on
// network calls do so through the context; the dispatcher treats quick and
// slow handlers the same way.
type Handler func(ctx context.Context, d *Delivery) (interface{}, error)

// Result is the outcome of one handler invocation during a dispatch. Key is
// the dispatch key the handler was registered under.
type Result struct {
	Key   string
	Value interface{}
	Err   error
}

// Dispatcher routes deliveries to registered handlers. Handlers registered
// for an (event type, action) pair run before handlers registered for the
// event type alone; within a key, registration order is invocation order.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]Handler)}
}

// On registers a handler for every action of an event type.
func (d *Dispatcher) On(eventType string, h Handler) {
	d.register(eventType, h)
}

// OnAction registers a handler for one (event type, action) pair.
func (d *Dispatcher) OnAction(eventType, action string, h Handler) {
	d.register(dispatchKey(eventType, action), h)
}

func (d *Dispatcher) register(key string, h Handler) {
	if key == "" || h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[key] = append(d.handlers[key], h)
}

// Dispatch invokes every handler matching the delivery: first all handlers
// under the specific "{type}:{action}" key, then all handlers under the
// general "{type}" key. A handler failure is recorded in its Result and does
// not stop the remaining handlers. No matching registrations yields an
// empty, non-nil slice.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery *Delivery) []Result {
	results := make([]Result, 0, 2)

	if delivery.Action != "" {
		key := dispatchKey(delivery.EventType, delivery.Action)
		results = d.invokeAll(ctx, key, delivery, results)
	}
	results = d.invokeAll(ctx, delivery.EventType, delivery, results)

	return results
}

func (d *Dispatcher) invokeAll(ctx context.Context, key string, delivery *Delivery, results []Result) []Result {
	d.mu.Lock()
	handlers := d.handlers[key]
	d.mu.Unlock()

	for _, h := range handlers {
		value, err := safeInvoke(ctx, h, delivery)
		results = append(results, Result{Key: key, Value: value, Err: err})
	}
	return results
}

func safeInvoke(ctx context.Context, h Handler, delivery *Delivery) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, delivery)
}

func dispatchKey(eventType, action string) string {
	return eventType + ":" + action
}
