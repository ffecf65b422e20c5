package webhook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// ErrDuplicateHandler is returned when an event type is registered twice.
var ErrDuplicateHandler = errors.New("handler already registered for event type")

// Handler applies one processor event type to local state. It must be safe to call more than once
// with the same envelope.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *Envelope) Result

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) Result {
	return f(ctx, env)
}

// Dispatcher routes an envelope to the single handler registered for its type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds eventType to h.
func (d *Dispatcher) Register(eventType string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, eventType)
	}
	d.handlers[eventType] = h
	return nil
}

// EventTypes lists registered event types in sorted order.
func (d *Dispatcher) EventTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch invokes the handler for env.Type and returns its result unchanged. Unknown types are
// ignored successfully so new processor event types never fail delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) (res Result) {
	d.mu.RLock()
	h, ok := d.handlers[env.Type]
	d.mu.RUnlock()

	if !ok {
		log.Debugf("[Dispatcher] No handler for %s (%s), ignoring", env.Type, env.ID)
		return Ignored("no handler, ignored")
	}
	if err := ctx.Err(); err != nil {
		return RetryOnError(err, "dispatch cancelled")
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Dispatcher] Handler for %s panicked on %s: %v", env.Type, env.ID, r)
			res = Fail("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, env)
}
