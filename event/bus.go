package event

import (
	"sync"
)

type Handler[Key, Event any] interface {
	OnEvent(key Key, e Event)
}

// HandlerFunc is an adapter to allow the use of ordinary
// functions as Handlers.
type HandlerFunc[Key, Event any] func(Key, Event)

// OnEvent calls f(key, e).
func (f HandlerFunc[Key, Event]) OnEvent(key Key, e Event) {
	f(key, e)
}

// Bus fans events out to handlers. Handlers added with AddHandler see every
// event, handlers added with AddKeyHandler only the events of their key.
//
// Delivery is synchronous and in registration order, so a handler observes
// events in the order they were published.
type Bus[Key comparable, Event any] struct {
	handlersMu sync.RWMutex
	handlers   []Handler[Key, Event]
	keyed      map[Key][]Handler[Key, Event]
}

func NewBus[Key comparable, Event any]() *Bus[Key, Event] {
	return &Bus[Key, Event]{
		handlersMu: sync.RWMutex{},
		handlers:   nil,
		keyed:      make(map[Key][]Handler[Key, Event]),
	}
}

func (b *Bus[Key, Event]) AddHandler(h Handler[Key, Event]) {
	b.handlersMu.Lock()
	b.handlers = append(b.handlers, h)
	b.handlersMu.Unlock()
}

func (b *Bus[Key, Event]) AddKeyHandler(key Key, h Handler[Key, Event]) {
	b.handlersMu.Lock()
	b.keyed[key] = append(b.keyed[key], h)
	b.handlersMu.Unlock()
}

func (b *Bus[Key, Event]) OnEvent(key Key, e Event) error {
	b.handlersMu.RLock()
	// Copy handlers to prevent race conditions
	handlers := make([]Handler[Key, Event], 0, len(b.handlers)+len(b.keyed[key]))
	handlers = append(handlers, b.handlers...)
	handlers = append(handlers, b.keyed[key]...)
	b.handlersMu.RUnlock()

	// Execute handlers outside the lock
	for _, h := range handlers {
		h.OnEvent(key, e)
	}

	return nil
}
