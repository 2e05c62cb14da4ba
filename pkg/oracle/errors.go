package oracle

import "fmt"

// A BuildError reports that building the fuzzers at a commit failed.
// It always names the failing commit so that a caller can surface which step
// of a bisection broke.
type BuildError struct {
	Commit string
	Output string // Trailing build output, may be empty
	Err    error
}

func (e *BuildError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("build of commit %s failed: %v, output: %s", e.Commit, e.Err, e.Output)
	}
	return fmt.Sprintf("build of commit %s failed: %v", e.Commit, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// A ReproductionError reports that a fuzz target process could not be
// launched or terminated abnormally. It is distinct from both the crash and
// the no-crash classification.
type ReproductionError struct {
	Binary string
	Err    error
}

func (e *ReproductionError) Error() string {
	return fmt.Sprintf("reproduction run of %s failed: %v", e.Binary, e.Err)
}

func (e *ReproductionError) Unwrap() error { return e.Err }
