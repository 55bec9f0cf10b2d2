package prescan_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jihwankim/rollstats/internal/prescan"
)

func writeSeed(t *testing.T, statsDir string, seedIdx int, spoiler, errorLog bool, instructions *uint64) {
	t.Helper()
	dir := filepath.Join(statsDir, strconv.Itoa(seedIdx))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if spoiler {
		if err := os.WriteFile(filepath.Join(dir, "spoiler.json"), []byte(`{}`), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if errorLog {
		if err := os.WriteFile(filepath.Join(dir, "error.log"), []byte("boom\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if instructions != nil {
		data, err := json.Marshal(prescan.Metadata{Instructions: instructions})
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanClassifiesEachSeed(t *testing.T) {
	dir := t.TempDir()
	n := uint64(12345)
	// seed 0: untouched -> Pending
	// seed 1: spoiler only -> Success
	writeSeed(t, dir, 1, true, false, nil)
	// seed 2: error log only, with metadata -> Failure{instructions}
	writeSeed(t, dir, 2, false, true, &n)

	out, errs := prescan.Scan(dir, 3, true)

	seen := map[uint16]prescan.Message{}
	dones := 0
	for msg := range out {
		if msg.Kind == prescan.MessageDone {
			dones++
			continue
		}
		seen[msg.SeedIdx] = msg
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected scan error: %v", err)
	default:
	}

	if dones == 0 {
		t.Fatal("expected at least one MessageDone")
	}
	if seen[0].Kind != prescan.MessagePending {
		t.Fatalf("seed 0 = %+v, want Pending", seen[0])
	}
	if seen[1].Kind != prescan.MessageSuccess {
		t.Fatalf("seed 1 = %+v, want Success", seen[1])
	}
	if seen[2].Kind != prescan.MessageFailure || seen[2].Instructions == nil || *seen[2].Instructions != n {
		t.Fatalf("seed 2 = %+v, want Failure{instructions:%d}", seen[2], n)
	}
}

func TestScanNonBenchSkipsInstructions(t *testing.T) {
	dir := t.TempDir()
	n := uint64(999)
	writeSeed(t, dir, 0, true, false, &n)

	out, _ := prescan.Scan(dir, 1, false)
	var got prescan.Message
	for msg := range out {
		if msg.Kind != prescan.MessageDone {
			got = msg
		}
	}
	if got.Instructions != nil {
		t.Fatalf("non-bench scan should not read instructions, got %v", got.Instructions)
	}
}

func TestScanBothSpoilerAndErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, 0, true, true, nil)

	_, errs := prescan.Scan(dir, 1, false)
	err := <-errs
	if err == nil {
		t.Fatal("expected invariant error")
	}
	var invErr *prescan.InvariantError
	if !asInvariantError(err, &invErr) {
		t.Fatalf("error %v is not *InvariantError", err)
	}
}

func asInvariantError(err error, target **prescan.InvariantError) bool {
	e, ok := err.(*prescan.InvariantError)
	if ok {
		*target = e
	}
	return ok
}

func TestParallelismCapsAtSeedCount(t *testing.T) {
	if got := prescan.Parallelism(1); got != 1 {
		t.Fatalf("Parallelism(1) = %d, want 1", got)
	}
}
