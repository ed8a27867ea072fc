package eventbus

import (
	"context"
	"sync"

	"github.com/citygrid/transit-sim/pkg/logger"
	"go.uber.org/zap"
)

// FallbackDispatcher invokes locally registered callbacks when the bus cannot
// deliver a message. It is the only degradation path: components keep
// signaling each other in-process while the connection recovers.
type FallbackDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewFallbackDispatcher creates an empty dispatcher.
func NewFallbackDispatcher() *FallbackDispatcher {
	return &FallbackDispatcher{handlers: make(map[string][]Handler)}
}

// Register adds an in-process handler for one event type.
func (d *FallbackDispatcher) Register(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Dispatch runs every handler registered for the event's type. Handler errors
// are logged and do not stop the remaining handlers.
func (d *FallbackDispatcher) Dispatch(ctx context.Context, event *Event) {
	d.mu.RLock()
	handlers := d.handlers[event.Type]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			logger.Warn("fallback handler error",
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
	}
}

// HandlerCount returns the number of handlers registered for an event type.
func (d *FallbackDispatcher) HandlerCount(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}
