package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ConnIDAllocator generates unique, human-readable temporary connection
// identifiers of the form "client_<host>_<port>_<seq>", used before a
// connection has authenticated and been assigned its own device id.
//
// Unlike a random identifier, the sequence number makes collisions
// impossible without needing a rejection loop: each call simply takes
// the next value from a monotonic counter.
type ConnIDAllocator struct {
	mu  sync.Mutex
	seq atomic.Uint64
	// live tracks outstanding ids purely so IsAllocated can answer
	// without a second data structure elsewhere in the registry.
	live map[string]struct{}
}

// NewConnIDAllocator creates an empty ConnIDAllocator.
func NewConnIDAllocator() *ConnIDAllocator {
	return &ConnIDAllocator{
		live: make(map[string]struct{}),
	}
}

// Allocate returns a new temporary connection id scoped to the peer's
// host and port.
func (a *ConnIDAllocator) Allocate(host string, port int) string {
	n := a.seq.Add(1)
	id := fmt.Sprintf("client_%s_%d_%d", host, port, n)

	a.mu.Lock()
	a.live[id] = struct{}{}
	a.mu.Unlock()

	return id
}

// Release removes id from the live set. Releasing an id that was never
// allocated, or was already released, is a no-op.
func (a *ConnIDAllocator) Release(id string) {
	a.mu.Lock()
	delete(a.live, id)
	a.mu.Unlock()
}

// IsAllocated reports whether id is currently live.
func (a *ConnIDAllocator) IsAllocated(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.live[id]
	return ok
}
