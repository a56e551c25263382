package signal

import (
	"testing"
	"time"
)

func newSignal(id string) *TradeSignal {
	return &TradeSignal{
		ID: id, Ticker: "FGNX", Trigger: 9.16, StopLoss: 8.25,
		Side: SideBuy, CreatedAt: time.Now(), Status: StatusPending,
	}
}

func TestSaveIfNew_Idempotent(t *testing.T) {
	st := NewStore()
	if !st.SaveIfNew(newSignal("a"), "fp-1") {
		t.Fatal("first save rejected")
	}
	// Same fingerprint, different payload: still rejected, stored state
	// untouched.
	other := newSignal("b")
	other.Trigger = 99
	if st.SaveIfNew(other, "fp-1") {
		t.Fatal("second save with same fingerprint accepted")
	}
	if _, ok := st.FindByID("b"); ok {
		t.Fatal("rejected signal leaked into the store")
	}
	if !st.SaveIfNew(newSignal("c"), "fp-2") {
		t.Fatal("distinct fingerprint rejected")
	}
}

func TestTransition_ForwardPath(t *testing.T) {
	st := NewStore()
	st.SaveIfNew(newSignal("a"), "fp")
	for _, next := range []Status{StatusArmed, StatusSubmitted, StatusFilled, StatusExitTP} {
		if err := st.Transition("a", next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	got, _ := st.StatusOf("a")
	if got != StatusExitTP {
		t.Fatalf("status = %s, want EXIT_TP", got)
	}
}

func TestTransition_IllegalJump(t *testing.T) {
	st := NewStore()
	st.SaveIfNew(newSignal("a"), "fp")
	if err := st.Transition("a", StatusArmed); err != nil {
		t.Fatal(err)
	}
	// ARMED straight to FILLED skips SUBMITTED.
	if err := st.Transition("a", StatusFilled); err == nil {
		t.Fatal("ARMED -> FILLED accepted, want rejection")
	}
	got, _ := st.StatusOf("a")
	if got != StatusArmed {
		t.Fatalf("status mutated on illegal jump: %s", got)
	}
}

func TestTransition_CancelAndErrorFromAnywhere(t *testing.T) {
	st := NewStore()
	st.SaveIfNew(newSignal("a"), "fp-a")
	if err := st.Transition("a", StatusCancelled); err != nil {
		t.Fatalf("PENDING -> CANCELLED: %v", err)
	}

	st.SaveIfNew(newSignal("b"), "fp-b")
	_ = st.Transition("b", StatusArmed)
	_ = st.Transition("b", StatusSubmitted)
	if err := st.Transition("b", StatusError); err != nil {
		t.Fatalf("SUBMITTED -> ERROR: %v", err)
	}
}

func TestTransition_TerminalIsFinal(t *testing.T) {
	st := NewStore()
	st.SaveIfNew(newSignal("a"), "fp")
	_ = st.Transition("a", StatusCancelled)
	if err := st.Transition("a", StatusArmed); err == nil {
		t.Fatal("transition out of CANCELLED accepted")
	}
	if err := st.Transition("a", StatusError); err == nil {
		t.Fatal("CANCELLED -> ERROR accepted")
	}
}

func TestTransition_UnknownSignal(t *testing.T) {
	if err := NewStore().Transition("nope", StatusArmed); err == nil {
		t.Fatal("expected error for unknown signal id")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("FGNX\nعند تجاوز 9.16")
	b := Fingerprint("  FGNX\nعند تجاوز 9.16  \n") // whitespace trimmed
	if a != b {
		t.Fatalf("fingerprints differ for trimmed-equal content: %s vs %s", a, b)
	}
	if a == Fingerprint("FGNX\nعند تجاوز 9.17") {
		t.Fatal("distinct content produced equal fingerprints")
	}
}

func TestKey(t *testing.T) {
	s := newSignal("a")
	if s.Key() != "FGNX|9.16|8.25" {
		t.Fatalf("key = %q", s.Key())
	}
}
