package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ExitGracePeriod is the time a fuzz target gets to exit on its own after
// its -max_total_time elapsed, before the run is cancelled from outside.
const ExitGracePeriod = 5 * time.Second

// Exit codes which indicate that the target found a bug rather than failing
// abnormally. See https://llvm.org/docs/LibFuzzer.html and the sanitizer
// common flags documentation.
const (
	libFuzzerErrorExitCode   = 77
	libFuzzerOOMExitCode     = 71
	libFuzzerTimeoutExitCode = 70
	sanitizerErrorExitCode   = 1
)

// reproduceRuns is how often the fixed input gets fed to the target in one
// Reproduce call. Matching libFuzzer's -runs flag semantics, a crash on any
// of the runs ends the process with a crash exit code.
const reproduceRuns = 100

// A Runner is a ReproductionOracle which executes fuzz target binaries as
// subprocesses in the style of libFuzzer engines.
type Runner struct {
	// ArtifactDir is where free-running targets place their crash inputs.
	// Empty means the process working directory.
	ArtifactDir string

	Env []string // Extra environment for the target process, KEY=VAL entries

	log *logrus.Entry
}

// NewRunner returns a Runner logging to the passed logger.
func NewRunner(artifactDir string, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Runner{
		ArtifactDir: artifactDir,
		log:         log.WithField("component", "runner"),
	}
}

// Reproduce feeds the fixed testcase input to the target binary, up to
// reproduceRuns times within a single process, and classifies the outcome.
// That one process observation is taken as ground truth for the commit under
// test: the process is never relaunched, masking flakiness with retries
// would only hide the error source, not remove it.
func (r *Runner) Reproduce(ctx context.Context, binary, testcase string) (CrashSignature, error) {
	r.log.Infof("Reproducing %s against %s", filepath.Base(binary), testcase)

	sig, err := r.run(ctx, binary, []string{
		"-runs=" + strconv.Itoa(reproduceRuns),
		testcase,
	})
	if err != nil {
		return CrashSignature{}, err
	}
	if sig.Crashed {
		sig.InputPath = testcase
	}
	return sig, nil
}

// RunForDuration lets the target fuzz freely until it finds a crash or the
// passed duration elapses, whichever comes first. Crash inputs are written
// below ArtifactDir and the triggering one is referenced in the returned
// signature.
func (r *Runner) RunForDuration(ctx context.Context, binary string, d time.Duration) (CrashSignature, error) {
	seconds := int64(d.Seconds())
	if seconds <= 0 {
		return CrashSignature{}, &ReproductionError{Binary: binary, Err: fmt.Errorf("non-positive fuzzing duration %v", d)}
	}

	args := []string{"-max_total_time=" + strconv.FormatInt(seconds, 10)}
	if r.ArtifactDir != "" {
		args = append(args, "-artifact_prefix="+r.ArtifactDir+string(os.PathSeparator))
	}

	// The target is told to stop via -max_total_time. The outer deadline is
	// only a backstop for targets that ignore it.
	runCtx, cancel := context.WithTimeout(ctx, d+ExitGracePeriod)
	defer cancel()

	r.log.Infof("Fuzzing %s for %v", filepath.Base(binary), d)

	before := time.Now()
	sig, err := r.run(runCtx, binary, args)
	if err != nil {
		// A run cancelled by the backstop deadline exhausted its budget
		// without crashing, that is a regular no-crash outcome.
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			r.log.Debugf("Target %s terminated by the grace period backstop", filepath.Base(binary))
			return CrashSignature{}, nil
		}
		return CrashSignature{}, err
	}
	if sig.Crashed {
		sig.InputPath = r.newestCrashInput(before)
	}
	return sig, nil
}

// run executes the target binary and classifies its exit.
func (r *Runner) run(ctx context.Context, binary string, args []string) (CrashSignature, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(), r.Env...)

	// Wait must not hang on the output pipes once the target itself is gone:
	// a forked child inheriting them would otherwise stall the run until it
	// exits, long past any deadline.
	cmd.WaitDelay = ExitGracePeriod

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	r.log.Tracef("Target output:\n%s", output.String())

	if err == nil {
		return CrashSignature{Crashed: false}, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The target exited cleanly, only a leftover child kept the pipes
		// open and truncated the output.
		return CrashSignature{Crashed: false}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return CrashSignature{}, &ReproductionError{Binary: binary, Err: err}
	}
	if ctx.Err() != nil {
		// Terminated from outside, the exit code carries no signal.
		return CrashSignature{}, &ReproductionError{Binary: binary, Err: ctx.Err()}
	}

	switch exitErr.ExitCode() {
	case libFuzzerErrorExitCode, libFuzzerOOMExitCode, libFuzzerTimeoutExitCode, sanitizerErrorExitCode:
		return CrashSignature{
			Crashed:    true,
			StackTrace: extractStackTrace(output.String()),
		}, nil
	default:
		return CrashSignature{}, &ReproductionError{
			Binary: binary,
			Err:    fmt.Errorf("target exited with unexpected code %d", exitErr.ExitCode()),
		}
	}
}

// newestCrashInput returns the crash input the target wrote after the passed
// point in time, or an empty string if none can be found.
func (r *Runner) newestCrashInput(after time.Time) string {
	dir := r.ArtifactDir
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		r.log.Warnf("Failed to scan %s for crash inputs - %v", dir, err)
		return ""
	}

	var newest string
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !isCrashInputName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(after) {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, entry.Name())
			newestTime = info.ModTime()
		}
	}
	return newest
}
