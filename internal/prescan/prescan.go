// Package prescan implements the Pre-scan Readers (C7): a parallel,
// modulo-partitioned probe of the output directory classifying each seed
// slot as pending, success, or failure without rolling it. Ported from the
// reader-task loop in
// original_source/crate/ootrstats-supervisor/src/main.rs.
package prescan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// MessageKind tags a Message emitted by a probe.
type MessageKind int

const (
	MessagePending MessageKind = iota
	MessageSuccess
	MessageFailure
	// MessageDone is sent once, after every probe's partition is exhausted,
	// so the caller knows the whole scan has finished.
	MessageDone
)

// Message is one result from a probe, or its exhaustion sentinel.
type Message struct {
	Kind         MessageKind
	SeedIdx      uint16
	Instructions *uint64
}

// Metadata is the on-disk `metadata.json` written after a roll completes.
type Metadata struct {
	Instructions *uint64 `json:"instructions,omitempty"`
}

// InvariantError reports a seed directory that has both spoiler.json and
// error.log, a state that should be unreachable, per §9 Design Notes.
type InvariantError struct {
	SeedIdx uint16
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("seed %d has both spoiler.json and error.log", e.SeedIdx)
}

// Parallelism returns P = min(numSeeds, hardware_parallelism), the probe
// count for Scan.
func Parallelism(numSeeds uint16) int {
	p := runtime.GOMAXPROCS(0)
	if p > int(numSeeds) {
		p = int(numSeeds)
	}
	if p < 1 {
		p = 1
	}
	return p
}

// Scan spawns Parallelism(numSeeds) probes over statsDir, partitioned by
// modulo: probe i inspects seeds i, i+P, i+2P, .... Results stream onto the
// returned channel, followed by a single MessageDone once every probe has
// finished. bench gates whether metadata.json is consulted for
// instruction counts. A fatal invariant violation is sent as an error on
// errs and the scan stops early; the caller should treat that as
// terminating the whole run.
func Scan(statsDir string, numSeeds uint16, bench bool) (<-chan Message, <-chan error) {
	out := make(chan Message, 256)
	errs := make(chan error, 1)

	p := Parallelism(numSeeds)
	done := make(chan struct{}, p)

	for taskIdx := 0; taskIdx < p; taskIdx++ {
		go func(taskIdx int) {
			defer func() { done <- struct{}{} }()
			for seedIdx := taskIdx; seedIdx < int(numSeeds); seedIdx += p {
				msg, err := probe(statsDir, uint16(seedIdx), bench)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
				out <- msg
			}
		}(taskIdx)
	}

	go func() {
		for i := 0; i < p; i++ {
			<-done
		}
		out <- Message{Kind: MessageDone}
		close(out)
	}()

	return out, errs
}

func probe(statsDir string, seedIdx uint16, bench bool) (Message, error) {
	seedPath := filepath.Join(statsDir, fmt.Sprint(seedIdx))
	spoilerPath := filepath.Join(seedPath, "spoiler.json")
	errorLogPath := filepath.Join(seedPath, "error.log")

	hasSpoiler := exists(spoilerPath)
	hasErrorLog := exists(errorLogPath)

	switch {
	case !hasSpoiler && !hasErrorLog:
		return Message{Kind: MessagePending, SeedIdx: seedIdx}, nil
	case hasSpoiler && hasErrorLog:
		return Message{}, &InvariantError{SeedIdx: seedIdx}
	case hasSpoiler:
		instructions, err := readInstructions(seedPath, bench)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: MessageSuccess, SeedIdx: seedIdx, Instructions: instructions}, nil
	default: // hasErrorLog
		instructions, err := readInstructions(seedPath, bench)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: MessageFailure, SeedIdx: seedIdx, Instructions: instructions}, nil
	}
}

func readInstructions(seedPath string, bench bool) (*uint64, error) {
	if !bench {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(seedPath, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return meta.Instructions, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
