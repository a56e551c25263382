// Package signal defines the trade signal model, its status lifecycle,
// and the two deduplication surfaces: the fingerprint-keyed store and the
// in-flight guard over equivalent trade parameters.
package signal

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Status is the signal lifecycle. Forward-only except CANCELLED/ERROR,
// which are reachable from any non-terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusArmed     Status = "ARMED"
	StatusSubmitted Status = "SUBMITTED"
	StatusFilled    Status = "FILLED"
	StatusExitTP    Status = "EXIT_TP"
	StatusExitSL    Status = "EXIT_SL"
	StatusCancelled Status = "CANCELLED"
	StatusError     Status = "ERROR"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusExitTP, StatusExitSL, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Side of the entry order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeSignal is created once by the extraction pipeline. After
// acceptance the execution engine is the sole mutator of Status, and it
// mutates only through Store.Transition.
type TradeSignal struct {
	ID            string
	Ticker        string
	Trigger       float64
	StopLoss      float64
	Side          Side
	ExtendedHours bool
	Targets       []float64
	CreatedAt     time.Time
	Status        Status
}

// Key is the in-flight dedup key over equivalent trade parameters.
func (s *TradeSignal) Key() string {
	return fmt.Sprintf("%s|%g|%g", s.Ticker, s.Trigger, s.StopLoss)
}

// Fingerprint derives the content fingerprint used for message-level
// dedup: FNV-64a over the trimmed raw text.
func Fingerprint(raw string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(raw)))
	return fmt.Sprintf("%016x", h.Sum64())
}
