package runtime

import "sync"

// Hub multicasts values to the listeners of a topic.
// Publishing never blocks: a listener whose buffer is full misses the value.
type Hub[T any] struct {
	mu     sync.RWMutex
	topics map[string]map[chan T]struct{}
	buffer int
}

func NewHub[T any](buffer int) *Hub[T] {
	return &Hub[T]{
		topics: make(map[string]map[chan T]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a listener on topic. The returned func removes it and closes the channel.
func (h *Hub[T]) Subscribe(topic string) (<-chan T, func()) {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	listeners, ok := h.topics[topic]
	if !ok {
		listeners = make(map[chan T]struct{})
		h.topics[topic] = listeners
	}
	listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.topics[topic], ch)
			if len(h.topics[topic]) == 0 {
				delete(h.topics, topic)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers v to every listener of topic and returns how many received it
func (h *Hub[T]) Publish(topic string, v T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.topics[topic] {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Listeners returns the number of listeners on topic
func (h *Hub[T]) Listeners(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
