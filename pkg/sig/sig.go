// Package sig is an in-process typed signal hub. It is the immediate
// delivery path of the state propagation layer: the store emits a topic
// after every write and same-runtime observers receive it synchronously.
// Cross-runtime observers cannot see these signals and must poll.
package sig

import "sync"

// Handler receives the emitting entity plus extra topic parameters.
type Handler func(sender any, params ...any)

type entry struct {
	id int
	fn Handler
}

// Hub 信号中心
type Hub struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   int
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string][]entry)}
}

var defaultHub = NewHub()

// Default returns the process-wide hub.
func Default() *Hub { return defaultHub }

// Connect registers a handler for a topic and returns a handle for
// Disconnect.
func (h *Hub) Connect(topic string, fn Handler) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.handlers[topic] = append(h.handlers[topic], entry{id: h.nextID, fn: fn})
	return h.nextID
}

func (h *Hub) Disconnect(topic string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.handlers[topic]
	for i, e := range list {
		if e.id == id {
			h.handlers[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit delivers synchronously in registration order. Handlers doing
// slow work must spawn their own goroutine.
func (h *Hub) Emit(topic string, sender any, params ...any) {
	h.mu.RLock()
	list := make([]entry, len(h.handlers[topic]))
	copy(list, h.handlers[topic])
	h.mu.RUnlock()

	for _, e := range list {
		e.fn(sender, params...)
	}
}
