// Package report implements the in-memory subcommand accumulators the
// Supervisor Loop (C8) feeds as it ingests Success/Failure results, plus
// the SUPPLEMENTED FEATURES domain tally and top-failures grouping.
// Grounded in the SubcommandData accumulation in
// original_source/crate/ootrstats-supervisor/src/main.rs.
package report

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Kind selects which accumulator a run uses, one per rollstats subcommand.
type Kind int

const (
	KindNone Kind = iota
	KindBench
	KindFailures
	KindTally
)

// Accumulator collects per-seed outcomes as the supervisor ingests them
// and renders a final summary, mirroring the teacher's
// `pkg/reporting/storage.go` persist-then-summarize shape.
type Accumulator interface {
	RecordSuccess(seedIdx uint16, instructions *uint64, spoiler map[string]interface{})
	RecordFailure(seedIdx uint16, instructions *uint64, errorLog []byte)
	Summary() string
}

// NoneAccumulator just counts successes and failures; suite uses it for
// each preset run.
type NoneAccumulator struct {
	Successes, Failures int
}

func (a *NoneAccumulator) RecordSuccess(uint16, *uint64, map[string]interface{}) { a.Successes++ }
func (a *NoneAccumulator) RecordFailure(uint16, *uint64, []byte)                 { a.Failures++ }
func (a *NoneAccumulator) Summary() string {
	return fmt.Sprintf("successes: %d, failures: %d", a.Successes, a.Failures)
}

// BenchAccumulator collects instruction counts for successes and
// failures separately, the shape `rollstats bench` reports on.
type BenchAccumulator struct {
	InstructionsSuccess []uint64
	InstructionsFailure []uint64
}

func (a *BenchAccumulator) RecordSuccess(_ uint16, instructions *uint64, _ map[string]interface{}) {
	if instructions != nil {
		a.InstructionsSuccess = append(a.InstructionsSuccess, *instructions)
	}
}

func (a *BenchAccumulator) RecordFailure(_ uint16, instructions *uint64, _ []byte) {
	if instructions != nil {
		a.InstructionsFailure = append(a.InstructionsFailure, *instructions)
	}
}

func (a *BenchAccumulator) Summary() string {
	total := len(a.InstructionsSuccess) + len(a.InstructionsFailure)
	if total == 0 {
		return "no benchmarked seeds"
	}
	rate := float64(len(a.InstructionsSuccess)) / float64(total) * 100
	return fmt.Sprintf("success rate: %.1f%% (%d/%d), avg instructions (success): %d",
		rate, len(a.InstructionsSuccess), total, average(a.InstructionsSuccess))
}

func average(xs []uint64) uint64 {
	if len(xs) == 0 {
		return 0
	}
	var sum uint64
	for _, x := range xs {
		sum += x
	}
	return sum / uint64(len(xs))
}

// FailureRecord is one failed seed's captured error log.
type FailureRecord struct {
	SeedIdx  uint16
	ErrorLog []byte
}

// FailuresAccumulator collects error logs for `rollstats failures`.
type FailuresAccumulator struct {
	Successes int
	Failures  []FailureRecord
}

func (a *FailuresAccumulator) RecordSuccess(uint16, *uint64, map[string]interface{}) { a.Successes++ }

func (a *FailuresAccumulator) RecordFailure(seedIdx uint16, _ *uint64, errorLog []byte) {
	a.Failures = append(a.Failures, FailureRecord{SeedIdx: seedIdx, ErrorLog: errorLog})
}

func (a *FailuresAccumulator) Summary() string {
	groups := TopFailures(a.Failures, 10)
	var b strings.Builder
	fmt.Fprintf(&b, "successes: %d, failures: %d\n", a.Successes, len(a.Failures))
	for _, g := range groups {
		fmt.Fprintf(&b, "  %dx (e.g. seed %d): %s\n", g.Count, g.ExampleSeed, g.Key)
	}
	return b.String()
}

// FailureGroup is one bucket of failures sharing the same error log tail.
type FailureGroup struct {
	Key         string
	Count       int
	ExampleSeed uint16
}

// TopFailures groups failures by the last two lines of their error log
// (trimmed of surrounding whitespace) and returns the `limit` most common
// groups in descending count order, each carrying one example seed index.
// Grounded in main.rs's tail-of-error-log grouping for its top-10 report.
func TopFailures(failures []FailureRecord, limit int) []FailureGroup {
	order := []string{}
	counts := map[string]int{}
	examples := map[string]uint16{}
	for _, f := range failures {
		key := lastTwoLines(f.ErrorLog)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			examples[key] = f.SeedIdx
		}
		counts[key]++
	}

	groups := make([]FailureGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, FailureGroup{Key: key, Count: counts[key], ExampleSeed: examples[key]})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })

	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups
}

func lastTwoLines(errorLog []byte) string {
	lines := []string{}
	scanner := bufio.NewScanner(bytes.NewReader(bytes.TrimSpace(errorLog)))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return strings.Join(lines[len(lines)-2:], "\n")
}

// TallyAccumulator groups successful seeds by an extracted spoiler field
// for `rollstats tally`.
type TallyAccumulator struct {
	Field    string
	Failures int
	spoilers []map[string]interface{}
}

func (a *TallyAccumulator) RecordSuccess(_ uint16, _ *uint64, spoiler map[string]interface{}) {
	a.spoilers = append(a.spoilers, spoiler)
}

func (a *TallyAccumulator) RecordFailure(uint16, *uint64, []byte) { a.Failures++ }

func (a *TallyAccumulator) Summary() string {
	histogram := TallyByField(a.spoilers, a.Field)
	keys := make([]string, 0, len(histogram))
	for k := range histogram {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "failures: %d\n", a.Failures)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %d\n", k, histogram[k])
	}
	return b.String()
}

// TallyByField counts occurrences of each distinct value of field across
// spoilers, the general form of main.rs's chest-appearance tally (there
// specialized to a fixed field; here parameterized since this port has no
// equivalent ootr_utils spoiler-log crate to hang a fixed accessor on).
func TallyByField(spoilers []map[string]interface{}, field string) map[string]int {
	histogram := map[string]int{}
	for _, spoiler := range spoilers {
		key := emptyDungeonsKey(spoiler, field)
		histogram[key]++
	}
	return histogram
}

// emptyDungeonsKey stringifies spoiler[field] for the histogram bucket.
// The "3precompleted"/"2precompleted" cases are kept distinct from the
// default case even though they currently bucket identically, reproducing
// the original's dead branches as written rather than collapsing them.
func emptyDungeonsKey(spoiler map[string]interface{}, field string) string {
	v, ok := spoiler[field]
	if !ok {
		return "unknown"
	}
	switch s := fmt.Sprint(v); s {
	case "3precompleted":
		return emptyDungeonsDefault(v)
	case "2precompleted":
		return emptyDungeonsDefault(v)
	default:
		return emptyDungeonsDefault(v)
	}
}

func emptyDungeonsDefault(v interface{}) string {
	return fmt.Sprint(v)
}
