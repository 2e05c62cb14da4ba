package fuzzrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crashbisect/crashbisect/pkg/oracle"
)

// Status is the tagged result of a fuzzing run, mapped onto process exit
// codes by the CLI.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
	StatusBugFound
)

// ExitCode returns the process exit code for this status: 0 for success, 1
// for errors and 2 when a bug was found.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusError:
		return 1
	case StatusBugFound:
		return 2
	}
	return 1
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusBugFound:
		return "bug-found"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// An Outcome is the terminal result of one scheduler run.
type Outcome struct {
	Completed  bool // Whether the run finished without an operational error
	CrashFound bool

	// Signature and Target are set when CrashFound is true.
	Signature *oracle.CrashSignature
	Target    string
}

// Status maps the outcome onto a Status value.
func (o Outcome) Status() Status {
	switch {
	case o.CrashFound:
		return StatusBugFound
	case o.Completed:
		return StatusSuccess
	}
	return StatusError
}

// A Scheduler distributes a shared time budget across a batch of fuzz
// targets and runs them one at a time. The scan is first-crash-wins: as soon
// as one target crashes, the remaining targets are not executed and exactly
// that one crash is reported.
type Scheduler struct {
	Runner oracle.ReproductionOracle

	Log *logrus.Logger
}

// Run fuzzes the passed targets under the shared budget, in the order they
// were discovered. Each target receives budget/len(targets), truncated to
// whole seconds; the remainder stays unspent.
//
// An empty batch returns an incomplete outcome immediately without spending
// any budget. A reproduction failure aborts the run and names the failing
// target.
func (s *Scheduler) Run(ctx context.Context, targets []FuzzTarget, budget time.Duration) (Outcome, error) {
	log := s.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	if len(targets) == 0 {
		log.Error("No fuzz targets to run")
		return Outcome{}, nil
	}

	share := (budget / time.Duration(len(targets))).Truncate(time.Second)
	if share <= 0 {
		return Outcome{}, fmt.Errorf("budget %v is too small to fuzz %d targets", budget, len(targets))
	}

	for i := range targets {
		target := &targets[i]
		target.Duration = share

		log.Infof("Fuzzing target %s for %v", target.Name(), target.Duration)

		sig, err := s.Runner.RunForDuration(ctx, target.Path, target.Duration)
		if err != nil {
			return Outcome{}, errors.Join(fmt.Errorf("fuzzing run aborted at target %s", target.Name()), err)
		}

		if sig.Crashed {
			log.Warnf("Target %s found a crash:\n%s", target.Name(), sig.StackTrace)
			return Outcome{
				Completed:  true,
				CrashFound: true,
				Signature:  &sig,
				Target:     target.Name(),
			}, nil
		}

		log.Infof("Target %s finished without a crash", target.Name())
	}

	return Outcome{Completed: true}, nil
}
