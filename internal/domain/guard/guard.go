package guard

import (
	"sync"
	"time"
)

// Guard tracks per-address connection counts and per-connection message
// rates. It is pure bookkeeping: no I/O, no timers, safe for concurrent use
// from independent connections.
type Guard struct {
	mu         sync.Mutex
	conns      map[string]int
	msgs       map[string][]time.Time
	maxPerAddr int
	now        func() time.Time
}

// New creates a guard capping concurrent connections per source address.
func New(maxPerAddr int) *Guard {
	return &Guard{
		conns:      make(map[string]int),
		msgs:       make(map[string][]time.Time),
		maxPerAddr: maxPerAddr,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Useful for testing window behavior.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// TryAcquire reserves a connection slot for addr. Returns false once the
// address is at its ceiling; the slot is not held in that case.
func (g *Guard) TryAcquire(addr string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conns[addr] >= g.maxPerAddr {
		return false
	}
	g.conns[addr]++
	return true
}

// Release returns a previously acquired slot. Empty entries are removed so
// the map stays bounded by the number of active addresses.
func (g *Guard) Release(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.conns[addr]
	if !ok {
		return
	}
	if n <= 1 {
		delete(g.conns, addr)
		return
	}
	g.conns[addr] = n - 1
}

// Connections reports the live slot count for addr.
func (g *Guard) Connections(addr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[addr]
}

// CheckMessageRate records one message for connID and reports whether the
// connection stays within max messages over the trailing window. Rejected
// messages still count toward the window.
func (g *Guard) CheckMessageRate(connID string, window time.Duration, max int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-window)

	stamps := g.msgs[connID]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	g.msgs[connID] = kept

	return len(kept) <= max
}

// Forget drops all rate entries for a connection. Called on disconnect so
// the map never outgrows the set of live connections.
func (g *Guard) Forget(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.msgs, connID)
}
