package stream

import "sync"

// DefaultMaxClients is the registry capacity used when none is configured.
const DefaultMaxClients = 10

// Registry is a bounded FIFO of clients. The dispatcher pops the front,
// serves it and either requeues it at the back or retires it. A popped
// client still occupies its slot until it is requeued or retired, so
// registration can never take the place of a client being served.
type Registry struct {
	mu       sync.Mutex
	queue    []Client
	inflight int
	capacity int
}

// NewRegistry creates a registry holding at most capacity clients.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultMaxClients
	}
	return &Registry{
		queue:    make([]Client, 0, capacity),
		capacity: capacity,
	}
}

// Register appends c. It returns false, changing nothing, when full.
func (r *Registry) Register(c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue)+r.inflight >= r.capacity {
		return false
	}
	r.queue = append(r.queue, c)
	return true
}

// Len counts queued and in-service clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) + r.inflight
}

// Cap returns the capacity.
func (r *Registry) Cap() int { return r.capacity }

// Full reports whether Register would currently fail.
func (r *Registry) Full() bool {
	return r.Len() >= r.capacity
}

// Pop takes the front client for service.
func (r *Registry) Pop() (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	c := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	r.inflight++
	return c, true
}

// Requeue returns a popped client to the back.
func (r *Registry) Requeue(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	r.queue = append(r.queue, c)
}

// Retire releases the slot of a popped client that will not come back.
func (r *Registry) Retire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
}

// IDs lists queued clients in service order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.queue))
	for i, c := range r.queue {
		ids[i] = c.ID()
	}
	return ids
}

// drain empties the queue and returns what was in it.
func (r *Registry) drain() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queue
	r.queue = make([]Client, 0, r.capacity)
	return out
}
