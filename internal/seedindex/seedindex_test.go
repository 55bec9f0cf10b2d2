package seedindex_test

import (
	"testing"

	"github.com/jihwankim/rollstats/internal/seedindex"
)

func TestMarkPendingThenTerminal(t *testing.T) {
	idx := seedindex.New(4)
	if err := idx.MarkPending(0); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	w := seedindex.WorkerName("w1")
	if err := idx.MarkRolling(0, w); err != nil {
		t.Fatalf("MarkRolling: %v", err)
	}
	if got := idx.Get(0).State; got != seedindex.Rolling {
		t.Fatalf("state = %s, want Rolling", got)
	}
	instr := uint64(123)
	if err := idx.MarkTerminal(0, seedindex.Success, &w, &instr); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}
	slot := idx.Get(0)
	if slot.State != seedindex.Success {
		t.Fatalf("state = %s, want Success", slot.State)
	}
	if slot.Instructions == nil || *slot.Instructions != 123 {
		t.Fatalf("instructions = %v, want 123", slot.Instructions)
	}
}

func TestTerminalSlotRejectsRegress(t *testing.T) {
	idx := seedindex.New(1)
	w := seedindex.WorkerName("w1")
	if err := idx.MarkTerminal(0, seedindex.Success, &w, nil); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}
	if err := idx.MarkRolling(0, w); err == nil {
		t.Fatal("expected error rolling a terminal slot")
	}
}

func TestReopenRetryEligibleOnly(t *testing.T) {
	idx := seedindex.New(2)
	w := seedindex.WorkerName("w1")

	if err := idx.MarkTerminal(0, seedindex.Failure, &w, nil); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}
	if err := idx.Reopen(0); err != nil {
		t.Fatalf("Reopen failure slot: %v", err)
	}
	if got := idx.Get(0).State; got != seedindex.Pending {
		t.Fatalf("state = %s, want Pending", got)
	}

	if err := idx.Reopen(1); err == nil {
		t.Fatal("expected error reopening an Unchecked slot")
	}
}

func TestCountsConservation(t *testing.T) {
	idx := seedindex.New(3)
	w := seedindex.WorkerName("w1")
	if err := idx.MarkTerminal(0, seedindex.Success, &w, nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkTerminal(1, seedindex.Failure, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkCancelled(2); err != nil {
		t.Fatal(err)
	}
	counts := idx.Counts()
	total := counts[seedindex.Success] + counts[seedindex.Failure] + counts[seedindex.Cancelled]
	if total != idx.Len() {
		t.Fatalf("total terminal = %d, want %d", total, idx.Len())
	}
}
