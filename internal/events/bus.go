package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goodtune/chronos/internal/metrics"
	"github.com/rs/zerolog"
)

// Handler consumes a published event.
type Handler func(Event) error

// Bus delivers events synchronously, in registration order, to the handlers
// subscribed to the event's kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers h for events of kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish delivers ev to every handler of its kind. A handler that fails or
// panics does not stop delivery to the rest; all failures are returned
// joined.
func (b *Bus) Publish(ev Event) error {
	kind := ev.Kind()

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[kind]))
	copy(handlers, b.handlers[kind])
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(kind.String()).Inc()

	var errs []error
	for i, h := range handlers {
		if err := b.deliver(h, ev); err != nil {
			metrics.EventHandlerFailures.WithLabelValues(kind.String()).Inc()
			b.logger.Error().
				Err(err).
				Str("kind", kind.String()).
				Int("handler", i).
				Msg("Event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ev)
}
