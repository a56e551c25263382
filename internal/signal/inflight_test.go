package signal

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestInFlightGuard_SingleWinner(t *testing.T) {
	g := NewInFlightGuard()
	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire("FGNX|9.16|8.25") {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if g.Len() != 1 {
		t.Fatalf("held = %d, want 1", g.Len())
	}
}

func TestInFlightGuard_ReleaseReopens(t *testing.T) {
	g := NewInFlightGuard()
	if !g.Acquire("k") {
		t.Fatal("first acquire failed")
	}
	if g.Acquire("k") {
		t.Fatal("double acquire succeeded")
	}
	g.Release("k")
	if !g.Acquire("k") {
		t.Fatal("acquire after release failed")
	}
}

func TestInFlightGuard_IndependentKeys(t *testing.T) {
	g := NewInFlightGuard()
	if !g.Acquire("a") || !g.Acquire("b") {
		t.Fatal("independent keys should not contend")
	}
}
