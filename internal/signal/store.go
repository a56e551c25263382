package signal

import (
	"fmt"
	"sync"
)

// Store is the in-memory signal registry. SaveIfNew is idempotent per
// fingerprint: the first writer wins and a repeat fingerprint is rejected
// without touching stored state, even when the derived signal differs.
type Store struct {
	mu           sync.Mutex
	byID         map[string]*TradeSignal
	fingerprints map[string]bool
}

func NewStore() *Store {
	return &Store{
		byID:         map[string]*TradeSignal{},
		fingerprints: map[string]bool{},
	}
}

func (st *Store) SaveIfNew(s *TradeSignal, fingerprint string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fingerprints[fingerprint] {
		return false
	}
	st.fingerprints[fingerprint] = true
	st.byID[s.ID] = s
	return true
}

func (st *Store) FindByID(id string) (*TradeSignal, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	return s, ok
}

// legalNext encodes the forward path. CANCELLED and ERROR are handled
// separately in Transition since they are legal from any non-terminal state.
var legalNext = map[Status][]Status{
	StatusPending:   {StatusArmed},
	StatusArmed:     {StatusSubmitted},
	StatusSubmitted: {StatusFilled},
	StatusFilled:    {StatusExitTP, StatusExitSL},
}

// Transition moves the signal to next if and only if the jump is legal
// from its current status. Illegal jumps (e.g. ARMED straight to FILLED)
// return an error and leave the signal untouched.
func (st *Store) Transition(id string, next Status) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if !ok {
		return fmt.Errorf("transition %s: unknown signal %q", next, id)
	}
	cur := s.Status
	if cur.Terminal() {
		return fmt.Errorf("transition %s: signal %s already terminal (%s)", next, id, cur)
	}
	if next == StatusCancelled || next == StatusError {
		s.Status = next
		return nil
	}
	for _, n := range legalNext[cur] {
		if n == next {
			s.Status = next
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for signal %s", cur, next, id)
}

// StatusOf reads the current status without exposing the stored pointer's
// mutability to callers that only observe.
func (st *Store) StatusOf(id string) (Status, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if !ok {
		return "", false
	}
	return s.Status, true
}
