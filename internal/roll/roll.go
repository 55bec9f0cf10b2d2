// Package roll implements the Generator Runner (C1): invoking the
// generator subprocess, parsing its stderr for fixed markers, optionally
// wrapping the invocation with a CPU-instruction-counting tool, and
// returning a RollOutput. Ported from
// original_source/crate/ootrstats/src/lib.rs.
package roll

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/jihwankim/rollstats/internal/dockerbridge"
)

// instructionsRe matches a perf stat -x, line such as "123,456 instructions:u".
var instructionsRe = regexp.MustCompile(`^ *([0-9,]+) +instructions:u`)

// markerSpoiler, markerCompressedROM, markerCosmeticLog, and
// markerDistFile are the fixed stderr prefixes the generator emits. The
// last-matching occurrence of each is taken, per §4.1.
const (
	markerSpoiler       = "Created spoiler log at: "
	markerCompressedROM = "Created compressed ROM at: "
	markerCosmeticLog   = "Created cosmetic log at: "
	markerDistFile      = "Copied distribution file to: "
)

// Settings is the opaque settings document written to the generator's
// stdin as JSON.
type Settings map[string]interface{}

// Request parameterizes one roll invocation.
type Request struct {
	GeneratorPath string
	RepoPath      string
	Settings      Settings
	Benchmark     bool
	// Patch requests that the generator's distribution-file artifact is
	// kept as the roll's patch output instead of being deleted as a
	// side-artifact (§4.1). Mutually exclusive with Benchmark (enforced
	// as a CLI precondition, not here).
	Patch     bool
	WSLDistro string // non-empty on a Windows host running under WSL
	SeedIdx   uint16

	// DockerImage selects the dockerRunner over the default
	// subprocessRunner when non-empty (worker run_mode: docker).
	DockerImage string
}

// Output is the result of a successful roll.
type Output struct {
	SpoilerLogPath string
	// PatchPath is set when Request.Patch was true and the generator
	// reported a distribution-file marker; empty otherwise.
	PatchPath    string
	Instructions *uint64
}

// PerfSyntaxError is returned when benchmark mode is enabled but no valid
// instruction-count line was found in the wrapper's stderr. Callers may
// retry the slot.
type PerfSyntaxError struct{}

func (PerfSyntaxError) Error() string { return "benchmark wrapper produced no instructions:u line" }

// SpoilerLogPathError is returned when the generator exited successfully
// but emitted no spoiler-log marker.
type SpoilerLogPathError struct{}

func (SpoilerLogPathError) Error() string { return "generator exited 0 but emitted no spoiler log path" }

// FailureError wraps a non-zero generator exit, carrying the captured
// stderr for reporting.
type FailureError struct {
	Stderr []byte
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("generator failed: %s", lastLines(string(e.Stderr), 2))
}

// runner is C1's abstraction over where the generator argv actually
// executes: subprocessRunner (the default, a bare local process,
// optionally re-expressed through wsl.exe) or dockerRunner (run_mode:
// docker, the generator's toolchain baked into a pinned image).
type runner interface {
	run(ctx context.Context, argv []string, dir string, stdin []byte) (stdout, stderr []byte, err error)
}

type subprocessRunner struct {
	wslDistro string
}

func (r subprocessRunner) run(ctx context.Context, argv []string, dir string, stdin []byte) ([]byte, []byte, error) {
	var cmd *exec.Cmd
	if r.wslDistro != "" && runtime.GOOS == "windows" {
		wslArgs := append([]string{"--distribution", r.wslDistro}, argv...)
		cmd = exec.CommandContext(ctx, "wsl.exe", wslArgs...)
	} else {
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), runErr
}

type dockerRunner struct {
	image string
}

func (r dockerRunner) run(ctx context.Context, argv []string, dir string, stdin []byte) ([]byte, []byte, error) {
	return dockerbridge.Run(ctx, r.image, dir, stdin, argv)
}

// Run invokes the generator (optionally through the instruction-counting
// wrapper) and returns either an Output or one of PerfSyntaxError,
// SpoilerLogPathError, or *FailureError. The generator's stdout is
// discarded; only the stderr marker lines documented in §4.1 carry
// meaning.
func Run(ctx context.Context, req Request) (*Output, error) {
	argv := buildArgv(req)

	var r runner
	if req.DockerImage != "" {
		r = dockerRunner{image: req.DockerImage}
	} else {
		// The WSL bridge only carries the instruction counter, so it is
		// used for benchmark runs alone.
		wslDistro := ""
		if req.Benchmark {
			wslDistro = req.WSLDistro
		}
		r = subprocessRunner{wslDistro: wslDistro}
	}

	settingsJSON, err := marshalSettings(req.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	_, stderr, runErr := r.run(ctx, argv, req.RepoPath, settingsJSON)

	lastMarker := func(prefix string) string {
		var last string
		scanner := bufio.NewScanner(bytes.NewReader(stderr))
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, prefix) {
				last = strings.TrimPrefix(line, prefix)
			}
		}
		return last
	}

	if runErr != nil {
		return nil, &FailureError{Stderr: stderr}
	}

	spoilerPath := lastMarker(markerSpoiler)
	if spoilerPath == "" {
		return nil, SpoilerLogPathError{}
	}

	out := &Output{SpoilerLogPath: spoilerPath}

	// useWSLRm mirrors the original's cfg!(target_os = "windows") && bench
	// branch: compressed ROM and cosmetic log live on the WSL side only
	// under a Windows benchmark run, so they must be removed through
	// wsl.exe rather than the host's own filesystem.
	useWSLRm := runtime.GOOS == "windows" && req.Benchmark && req.WSLDistro != ""

	if distPath := lastMarker(markerDistFile); distPath != "" {
		if req.Patch {
			out.PatchPath = distPath
		} else if err := removeArtifact(ctx, distPath, req.WSLDistro, false); err != nil {
			return nil, fmt.Errorf("remove distribution file: %w", err)
		}
	}
	if romPath := lastMarker(markerCompressedROM); romPath != "" {
		if err := removeArtifact(ctx, romPath, req.WSLDistro, useWSLRm); err != nil {
			return nil, fmt.Errorf("remove compressed ROM: %w", err)
		}
	}
	if cosmeticPath := lastMarker(markerCosmeticLog); cosmeticPath != "" {
		if err := removeArtifact(ctx, cosmeticPath, req.WSLDistro, useWSLRm); err != nil {
			return nil, fmt.Errorf("remove cosmetic log: %w", err)
		}
	}

	if req.Benchmark {
		instr, err := parseInstructions(stderr)
		if err != nil {
			return nil, err
		}
		out.Instructions = &instr
	}

	return out, nil
}

// buildArgv returns the generator invocation, wrapped with `perf stat -x,`
// when Benchmark is set. On a Windows host this argv is re-expressed
// through wsl.exe by Run, mirroring the original's Linux-only instruction
// counter bridged from Windows.
func buildArgv(req Request) []string {
	base := []string{req.GeneratorPath}
	if !req.Benchmark {
		return base
	}
	return append([]string{"perf", "stat", "-x,"}, base...)
}

func parseInstructions(stderr []byte) (uint64, error) {
	var last string
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	for scanner.Scan() {
		if m := instructionsRe.FindStringSubmatch(scanner.Text()); m != nil {
			last = m[1]
		}
	}
	if last == "" {
		return 0, PerfSyntaxError{}
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(last, ",", ""), 10, 64)
	if err != nil {
		return 0, PerfSyntaxError{}
	}
	return n, nil
}

func marshalSettings(s Settings) ([]byte, error) {
	return json.Marshal(s)
}

// removeArtifact deletes a side-artifact path reported by the generator.
// When viaWSLRm is set the path is removed through wsl.exe rm, since the
// host process has no direct access to the WSL-side filesystem; otherwise
// it's a plain os.Remove.
func removeArtifact(ctx context.Context, path, wslDistro string, viaWSLRm bool) error {
	if viaWSLRm {
		cmd := exec.CommandContext(ctx, "wsl.exe", "--distribution", wslDistro, "rm", path)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("wsl rm %s: %w: %s", path, err, stderr.String())
		}
		return nil
	}
	return os.Remove(path)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
