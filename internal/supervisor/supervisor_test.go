package supervisor_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jihwankim/rollstats/internal/prescan"
	"github.com/jihwankim/rollstats/internal/report"
	"github.com/jihwankim/rollstats/internal/roll"
	"github.com/jihwankim/rollstats/internal/seedindex"
	"github.com/jihwankim/rollstats/internal/supervisor"
	"github.com/jihwankim/rollstats/internal/telemetry"
	"github.com/jihwankim/rollstats/internal/worker"
)

// fakeHandle mimics a LocalHandle's concurrency shape (one goroutine
// owning the roll-command channel, emitting Ready(1) before the loop and
// after every completion) without shelling out to a real generator, so
// these tests exercise the supervisor's dispatch/ingest/termination logic
// in isolation.
type fakeHandle struct {
	name worker.Name
	in   chan uint16

	mu                sync.Mutex
	attempts          map[uint16]int
	failFirstAttempt  map[uint16]bool
	missingInstrFirst map[uint16]bool
}

func newFakeHandle(name worker.Name) *fakeHandle {
	return &fakeHandle{
		name:              name,
		in:                make(chan uint16, 256),
		attempts:          map[uint16]int{},
		failFirstAttempt:  map[uint16]bool{},
		missingInstrFirst: map[uint16]bool{},
	}
}

func (f *fakeHandle) Name() worker.Name { return f.name }

func (f *fakeHandle) Connect(ctx context.Context) (<-chan worker.Event, error) {
	out := make(chan worker.Event, 256)
	go func() {
		defer close(out)
		out <- worker.Event{Worker: f.name, Kind: worker.EventReady, ReadyN: 1}
		for seedIdx := range f.in {
			f.mu.Lock()
			f.attempts[seedIdx]++
			attempt := f.attempts[seedIdx]
			f.mu.Unlock()

			if f.failFirstAttempt[seedIdx] && attempt == 1 {
				out <- worker.Event{Worker: f.name, Kind: worker.EventFailure, SeedIdx: seedIdx, ErrorLog: []byte("boom\nexit 1")}
			} else {
				var instr *uint64
				if !(f.missingInstrFirst[seedIdx] && attempt == 1) {
					n := uint64(1000 + seedIdx)
					instr = &n
				}
				out <- worker.Event{Worker: f.name, Kind: worker.EventSuccess, SeedIdx: seedIdx, Instructions: instr, SpoilerBytes: []byte(`{"ok":true}`)}
			}
			out <- worker.Event{Worker: f.name, Kind: worker.EventReady, ReadyN: 1}
		}
	}()
	return out, nil
}

func (f *fakeHandle) Roll(seedIdx uint16, settings roll.Settings) error {
	f.in <- seedIdx
	return nil
}

func (f *fakeHandle) Stop() error {
	close(f.in)
	return nil
}

func run(t *testing.T, dir string, numSeeds uint16, bench, retryFailures bool, h *fakeHandle, acc report.Accumulator) supervisor.Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := supervisor.Run(ctx, supervisor.Config{
		StatsRoot:     dir,
		NumSeeds:      numSeeds,
		Bench:         bench,
		RetryFailures: retryFailures,
		Recipe:        roll.Settings{},
	}, []worker.Handle{h}, acc, telemetry.Nop())
	if err != nil {
		t.Fatalf("supervisor.Run: %v", err)
	}
	return summary
}

// TestS1LocalHappyPath is spec.md's S1: N=4, one local worker, empty run
// dir; expect four successes and a spoiler.json under each.
func TestS1LocalHappyPath(t *testing.T) {
	dir := t.TempDir()
	acc := &report.NoneAccumulator{}
	h := newFakeHandle("w1")

	summary := run(t, dir, 4, false, false, h, acc)

	if acc.Successes != 4 || acc.Failures != 0 {
		t.Fatalf("acc = %+v, want successes:4 failures:0", acc)
	}
	if summary.Counts[seedindex.Success] != 4 {
		t.Fatalf("summary counts = %+v, want 4 Success", summary.Counts)
	}
	for i := 0; i < 4; i++ {
		if _, err := os.Stat(filepath.Join(dir, itoa(i), "spoiler.json")); err != nil {
			t.Fatalf("seed %d missing spoiler.json: %v", i, err)
		}
		if _, err := os.Stat(filepath.Join(dir, itoa(i), "metadata.json")); err != nil {
			t.Fatalf("seed %d missing metadata.json: %v", i, err)
		}
	}
}

// TestS2BenchMissingInstructionsRetries is spec.md's S2: seed 0 lacks the
// instructions line on its first attempt; expect it re-rolled until
// instructions are captured.
func TestS2BenchMissingInstructionsRetries(t *testing.T) {
	dir := t.TempDir()
	acc := &report.BenchAccumulator{}
	h := newFakeHandle("w1")
	h.missingInstrFirst[0] = true

	run(t, dir, 2, true, false, h, acc)

	data, err := os.ReadFile(filepath.Join(dir, "0", "metadata.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta prescan.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Instructions == nil {
		t.Fatal("seed 0 final metadata has nil instructions, want non-nil after retry")
	}
	if h.attempts[0] < 2 {
		t.Fatalf("seed 0 attempts = %d, want >= 2 (retried)", h.attempts[0])
	}
}

// TestS3MixedSuccessFailureWithRetry is spec.md's S3: N=3, retry-failures
// enabled, seed 1 fails once then succeeds; expect three spoiler.json and
// no error.log anywhere.
func TestS3MixedSuccessFailureWithRetry(t *testing.T) {
	dir := t.TempDir()
	acc := &report.NoneAccumulator{}
	h := newFakeHandle("w1")
	h.failFirstAttempt[1] = true

	run(t, dir, 3, false, true, h, acc)

	if acc.Successes != 3 || acc.Failures != 0 {
		t.Fatalf("acc = %+v, want successes:3 failures:0", acc)
	}
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(filepath.Join(dir, itoa(i), "error.log")); !os.IsNotExist(err) {
			t.Fatalf("seed %d has an error.log, want none after successful retry", i)
		}
	}
}

// TestS4Resume is spec.md's S4: seeds 0 and 1 pre-populated on disk;
// only seed 2 should be rolled.
func TestS4Resume(t *testing.T) {
	dir := t.TempDir()
	mustMkdir(t, filepath.Join(dir, "0"))
	mustWrite(t, filepath.Join(dir, "0", "spoiler.json"), `{"pre":true}`)
	mustWrite(t, filepath.Join(dir, "0", "metadata.json"), `{}`)
	mustMkdir(t, filepath.Join(dir, "1"))
	mustWrite(t, filepath.Join(dir, "1", "error.log"), "pre-existing failure")
	mustWrite(t, filepath.Join(dir, "1", "metadata.json"), `{}`)

	acc := &report.NoneAccumulator{}
	h := newFakeHandle("w1")

	run(t, dir, 3, false, false, h, acc)

	if acc.Successes != 2 || acc.Failures != 1 {
		t.Fatalf("acc = %+v, want 2 successes (pre-existing seed 0 + seed 2) + 1 pre-existing failure recorded", acc)
	}
	if h.attempts[0] != 0 || h.attempts[1] != 0 {
		t.Fatalf("seeds 0/1 should not have been rolled, attempts = %+v", h.attempts)
	}
	if h.attempts[2] != 1 {
		t.Fatalf("seed 2 attempts = %d, want 1", h.attempts[2])
	}
}

// TestConservationProperty is §8 property 2: successes + failures +
// cancelled == N at termination.
func TestConservationProperty(t *testing.T) {
	dir := t.TempDir()
	acc := &report.NoneAccumulator{}
	h := newFakeHandle("w1")
	h.failFirstAttempt[2] = false

	const n = 6
	summary := run(t, dir, n, false, false, h, acc)

	total := summary.Counts[seedindex.Success] + summary.Counts[seedindex.Failure] + summary.Counts[seedindex.Cancelled]
	if total != n {
		t.Fatalf("counts = %+v sum to %d, want %d", summary.Counts, total, n)
	}
}

func itoa(i int) string {
	return string(rune('0' + i))
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
