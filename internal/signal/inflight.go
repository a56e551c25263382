package signal

import "sync"

// InFlightGuard is a concurrent membership set over (ticker, trigger, stop)
// keys. Acquire is an atomic check-and-insert, so exactly one execution
// loop wins for equivalent signals arriving from different messages.
type InFlightGuard struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewInFlightGuard() *InFlightGuard {
	return &InFlightGuard{held: map[string]bool{}}
}

// Acquire returns true when the key was free and is now held.
func (g *InFlightGuard) Acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] {
		return false
	}
	g.held[key] = true
	return true
}

func (g *InFlightGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
}

// Len reports the number of held keys; surfaced as a gauge.
func (g *InFlightGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}
