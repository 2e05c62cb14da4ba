package oracle

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/opencontainers/go-digest"
)

// BuildConfig holds the parameters which stay fixed across all builds of one
// bisection or fuzzing run.
type BuildConfig struct {
	Project    string `yaml:"project"`    // The name of the project whose fuzzers get built
	Repository string `yaml:"repository"` // The URL of the project's main repository

	Engine       string `yaml:"engine" default:"libfuzzer"`
	Sanitizer    string `yaml:"sanitizer" default:"address"`
	Architecture string `yaml:"architecture" default:"x86_64"`
}

// Digest returns a stable digest over all config fields.
// Artifacts and images built under different configs must never be confused
// with one another, so the digest is part of every image tag.
func (c BuildConfig) Digest() string {
	return digest.FromString(fmt.Sprintf("%s\n%s\n%s\n%s\n%s", c.Project, c.Repository, c.Engine, c.Sanitizer, c.Architecture)).Encoded()
}

// Image returns the name with the tag of the docker image under which this
// config's builds run.
func (c BuildConfig) Image() string {
	return fmt.Sprintf("crashbisect-%s:%s", c.Project, c.Digest())
}

// An Artifact is the build output of exactly one commit under one config.
// It is ephemeral: the out directory it points at is shared between builds,
// and the next Build call overwrites it.
type Artifact struct {
	Commit string      // The commit this artifact was built at
	OutDir string      // The directory holding the built fuzz target binaries
	Config BuildConfig // The config this artifact was built under
}

// TargetPath returns the path of the named fuzz target binary inside this
// artifact.
func (a Artifact) TargetPath(name string) string {
	return path.Join(a.OutDir, name)
}

// A CrashSignature classifies one execution of a fuzz target.
// Bisection compares signatures by the Crashed flag only, never by stack
// trace equality.
type CrashSignature struct {
	Crashed bool

	StackTrace string // The sanitizer report, empty if Crashed is false
	InputPath  string // The path to the input triggering the crash, empty if Crashed is false
}

// A BuildOracle produces a runnable artifact for a commit, or fails with a
// *BuildError. Builds share a single output location and must not overlap,
// implementations serialize concurrent calls.
type BuildOracle interface {
	Build(ctx context.Context, commit string) (*Artifact, error)
}

// A ReproductionOracle executes fuzz target binaries and classifies the
// outcome.
//
// Reproduce runs a fixed input against a binary in one process invocation.
// The underlying target may reproduce flakily; the single observation is
// taken as ground truth and the process is never relaunched.
//
// RunForDuration lets the target fuzz freely until it either finds a crash or
// the duration elapses.
//
// Both methods return a *ReproductionError when the process could not be
// launched or died abnormally. Such failures are never folded into a
// crash/no-crash classification.
type ReproductionOracle interface {
	Reproduce(ctx context.Context, binary, testcase string) (CrashSignature, error)
	RunForDuration(ctx context.Context, binary string, d time.Duration) (CrashSignature, error)
}
