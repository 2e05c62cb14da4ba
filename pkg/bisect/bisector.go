package bisect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crashbisect/crashbisect/pkg/oracle"
)

// Outcome tags how a bisection terminated.
type Outcome int

const (
	// Boundary means a genuine behavior-change boundary was located. The
	// result's commit is the oldest revision still exhibiting the baseline
	// classification.
	Boundary Outcome = iota

	// IdenticalBehavior means the oldest and newest revisions classify the
	// same, so no boundary exists inside the range. The result's commit is
	// the oldest revision, but it is not a finding.
	IdenticalBehavior

	// SingleRevision means the range has length one and cannot be bisected.
	// No build is performed.
	SingleRevision
)

func (o Outcome) String() string {
	switch o {
	case Boundary:
		return "boundary"
	case IdenticalBehavior:
		return "identical-behavior"
	case SingleRevision:
		return "single-revision"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// A Result is the terminal output of one bisection.
type Result struct {
	Outcome Outcome
	Commit  Revision

	// Baseline is the classification observed at the newest revision. The
	// caller decides whether it marks the introduction or the fix of the
	// crash, depending on which direction was searched.
	Baseline oracle.CrashSignature

	Steps int // Number of build+reproduce steps performed

	CommitInfo CommitInfo // Metadata of the result commit, best effort
}

// bisector runs the binary-search protocol over a revision range, driving
// the build and reproduction oracles one synchronous step at a time.
type bisector struct {
	rng        *RevisionRange
	builder    oracle.BuildOracle
	reproducer oracle.ReproductionOracle

	target      string
	testcase    string
	stepTimeout time.Duration

	log *logrus.Entry

	steps int
}

// run executes the bisection protocol: baseline the newest revision, check
// the oldest against it, then narrow the cursor by halving.
//
// The search assumes the crash/no-crash property flips exactly once across
// the range. Reproduction may be flaky and each step takes a single
// observation as ground truth, so for non-monotonic behavior the result is
// the closest transition found by this contiguous search, not necessarily
// the true minimal cause.
func (b *bisector) run(ctx context.Context) (*Result, error) {
	if b.rng.Len() == 1 {
		b.log.Info("Revision range has length one, nothing to bisect")
		return &Result{Outcome: SingleRevision, Commit: b.rng.At(0)}, nil
	}

	newIdx, oldIdx := 0, b.rng.Len()-1

	baseline, err := b.step(ctx, b.rng.At(newIdx))
	if err != nil {
		return nil, err
	}
	b.log.Infof("Baseline at newest revision %s: crashed=%t", b.rng.At(newIdx).Hash, baseline.Crashed)

	oldest, err := b.step(ctx, b.rng.At(oldIdx))
	if err != nil {
		return nil, err
	}
	if oldest.Crashed == baseline.Crashed {
		b.log.Warnf("Oldest revision %s behaves like the newest, nothing to localize in this range", b.rng.At(oldIdx).Hash)
		return &Result{
			Outcome:  IdenticalBehavior,
			Commit:   b.rng.At(oldIdx),
			Baseline: baseline,
			Steps:    b.steps,
		}, nil
	}

	// Invariant from here on: the revision at newIdx exhibits the baseline
	// classification, the one at oldIdx the opposite.
	for oldIdx-newIdx > 1 {
		curr := (oldIdx + newIdx) / 2
		b.log.Infof("Searching revisions (%d, %d), probing %d", newIdx, oldIdx, curr)

		sig, err := b.step(ctx, b.rng.At(curr))
		if err != nil {
			return nil, err
		}
		if sig.Crashed == baseline.Crashed {
			newIdx = curr
		} else {
			oldIdx = curr
		}
	}

	boundary := b.rng.At(newIdx)
	b.log.Infof("Found boundary revision %s after %d steps", boundary.Hash, b.steps)

	return &Result{
		Outcome:  Boundary,
		Commit:   boundary,
		Baseline: baseline,
		Steps:    b.steps,
	}, nil
}

// step builds the passed revision and reproduces the testcase against the
// resulting artifact. Build and reproduction failures are fatal to the
// bisection: treating them as one of the two classifications would silently
// misattribute the boundary.
func (b *bisector) step(ctx context.Context, rev Revision) (oracle.CrashSignature, error) {
	if b.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.stepTimeout)
		defer cancel()
	}

	b.steps++

	artifact, err := b.builder.Build(ctx, rev.Hash)
	if err != nil {
		return oracle.CrashSignature{}, errors.Join(fmt.Errorf("bisection aborted: cannot build revision %s (index %d)", rev.Hash, rev.Index), err)
	}

	sig, err := b.reproducer.Reproduce(ctx, artifact.TargetPath(b.target), b.testcase)
	if err != nil {
		return oracle.CrashSignature{}, errors.Join(fmt.Errorf("bisection aborted: cannot reproduce at revision %s (index %d)", rev.Hash, rev.Index), err)
	}

	b.log.Debugf("Revision %s (index %d) classified crashed=%t", rev.Hash, rev.Index, sig.Crashed)
	return sig, nil
}
