package backend

import (
	"testing"
	"time"
)

func TestLookupOrInsertReturnsSameClientForSameIdentity(t *testing.T) {
	table := NewTable()
	id := Identity{Addr: "10.0.0.1:11211", Protocol: "ascii", Transport: "tcp"}

	c1 := table.LookupOrInsert(id)
	c2 := table.LookupOrInsert(id)
	if c1 != c2 {
		t.Fatal("expected LookupOrInsert to return the same client for the same identity")
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 client registered, got %d", table.Len())
	}
}

func TestMarkAllUnusedThenSweep(t *testing.T) {
	table := NewTable()
	idA := Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"}
	idB := Identity{Addr: "b:11211", Protocol: "ascii", Transport: "tcp"}

	table.LookupOrInsert(idA)
	table.LookupOrInsert(idB)

	table.MarkAllUnused()
	// Re-lookup idA, simulating a new config that still references it;
	// idB is not referenced by the new config and so stays unused.
	table.LookupOrInsert(idA)

	removed := table.SweepUnused()
	if removed != 1 {
		t.Fatalf("expected 1 client swept, got %d", removed)
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 client remaining, got %d", table.Len())
	}
}

func TestResetInactiveRemovesStaleClients(t *testing.T) {
	table := NewTable()
	id := Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"}
	c := table.LookupOrInsert(id)
	c.lastUsed.Store(time.Now().Add(-time.Hour).UnixNano())

	removed := table.ResetInactive(time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 client removed, got %d", removed)
	}
	if table.Len() != 0 {
		t.Fatalf("expected table empty, got %d", table.Len())
	}
}

func TestResetInactiveDisabledWhenIntervalNonPositive(t *testing.T) {
	table := NewTable()
	table.LookupOrInsert(Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	if removed := table.ResetInactive(0); removed != 0 {
		t.Fatalf("expected no-op for interval<=0, got %d removed", removed)
	}
}

func TestAllReturnsEveryClient(t *testing.T) {
	table := NewTable()
	table.LookupOrInsert(Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	table.LookupOrInsert(Identity{Addr: "b:11211", Protocol: "ascii", Transport: "tcp"})
	if got := len(table.All()); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}
}
