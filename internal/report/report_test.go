package report_test

import (
	"testing"

	"github.com/jihwankim/rollstats/internal/report"
)

func u64(n uint64) *uint64 { return &n }

func TestNoneAccumulatorCounts(t *testing.T) {
	a := &report.NoneAccumulator{}
	a.RecordSuccess(0, nil, nil)
	a.RecordSuccess(1, nil, nil)
	a.RecordFailure(2, nil, nil)
	if a.Successes != 2 || a.Failures != 1 {
		t.Fatalf("got successes=%d failures=%d, want 2/1", a.Successes, a.Failures)
	}
}

func TestBenchAccumulatorAverages(t *testing.T) {
	a := &report.BenchAccumulator{}
	a.RecordSuccess(0, u64(100), nil)
	a.RecordSuccess(1, u64(200), nil)
	a.RecordFailure(2, u64(50), nil)
	a.RecordSuccess(3, nil, nil) // missing instructions, not counted

	if len(a.InstructionsSuccess) != 2 {
		t.Fatalf("InstructionsSuccess = %v, want 2 entries", a.InstructionsSuccess)
	}
	if len(a.InstructionsFailure) != 1 {
		t.Fatalf("InstructionsFailure = %v, want 1 entry", a.InstructionsFailure)
	}
	if got, want := a.Summary(), "success rate: 66.7% (2/3), avg instructions (success): 150"; got != want {
		t.Fatalf("Summary() = %q, want %q", got, want)
	}
}

func TestTopFailuresGroupsByLastTwoLines(t *testing.T) {
	failures := []report.FailureRecord{
		{SeedIdx: 0, ErrorLog: []byte("trace...\npanic: out of bounds\nexit 1")},
		{SeedIdx: 1, ErrorLog: []byte("other trace\npanic: out of bounds\nexit 1")},
		{SeedIdx: 2, ErrorLog: []byte("unrelated\nwholly different failure")},
	}

	groups := report.TopFailures(failures, 10)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(groups), groups)
	}
	if groups[0].Count != 2 {
		t.Fatalf("most common group count = %d, want 2", groups[0].Count)
	}
}

func TestTopFailuresRespectsLimit(t *testing.T) {
	failures := make([]report.FailureRecord, 0, 5)
	for i := 0; i < 5; i++ {
		failures = append(failures, report.FailureRecord{
			SeedIdx:  uint16(i),
			ErrorLog: []byte(distinctFailure(i)),
		})
	}
	groups := report.TopFailures(failures, 2)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2 (respecting limit)", len(groups))
	}
}

func distinctFailure(i int) string {
	return "distinct failure kind " + string(rune('A'+i))
}

func TestTallyByFieldBucketsDeadBranchesWithDefault(t *testing.T) {
	spoilers := []map[string]interface{}{
		{"empty_dungeons": "3precompleted"},
		{"empty_dungeons": "2precompleted"},
		{"empty_dungeons": "none"},
	}
	histogram := report.TallyByField(spoilers, "empty_dungeons")
	if histogram["3precompleted"] != 1 || histogram["2precompleted"] != 1 || histogram["none"] != 1 {
		t.Fatalf("histogram = %+v, want one bucket per distinct key", histogram)
	}
}

func TestTallyAccumulatorSummaryIncludesFailures(t *testing.T) {
	a := &report.TallyAccumulator{Field: "empty_dungeons"}
	a.RecordSuccess(0, nil, map[string]interface{}{"empty_dungeons": "none"})
	a.RecordFailure(1, nil, nil)
	summary := a.Summary()
	if want := "failures: 1\n  none: 1\n"; summary != want {
		t.Fatalf("Summary() = %q, want %q", summary, want)
	}
}
