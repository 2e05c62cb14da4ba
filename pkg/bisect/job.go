package bisect

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/crashbisect/crashbisect/pkg/oracle"
)

type jobYaml struct {
	Project    string `yaml:"project"`
	Repository string `yaml:"repository"`

	CommitOld string `yaml:"commitOld"`
	CommitNew string `yaml:"commitNew"`

	FuzzTarget string `yaml:"fuzzTarget"`
	Testcase   string `yaml:"testcase"`

	Engine       string `yaml:"engine" default:"libfuzzer"`
	Sanitizer    string `yaml:"sanitizer" default:"address"`
	Architecture string `yaml:"architecture" default:"x86_64"`

	StepTimeout time.Duration `yaml:"stepTimeoutSeconds" default:"1800"`
}

// GetJobFromConfig reads in a job config in yaml format from a reader and
// initializes the corresponding job struct. The build/reproduce oracles and
// the commit lister still have to be attached by the caller.
func GetJobFromConfig(r io.Reader) (*Job, error) {
	var config jobYaml

	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return nil, err
	}
	if err := defaults.Set(&config); err != nil {
		return nil, err
	}

	return &Job{
		Config: oracle.BuildConfig{
			Project:      config.Project,
			Repository:   config.Repository,
			Engine:       config.Engine,
			Sanitizer:    config.Sanitizer,
			Architecture: config.Architecture,
		},

		CommitOld: config.CommitOld,
		CommitNew: config.CommitNew,

		FuzzTarget: config.FuzzTarget,
		Testcase:   config.Testcase,

		StepTimeout: config.StepTimeout * time.Second,
	}, nil
}

// A Job holds everything needed to bisect one crash: the revision bounds,
// the fixed crashing input, the build config and the collaborating oracles.
type Job struct {
	Config oracle.BuildConfig

	CommitOld string // The oldest revision of the search range
	CommitNew string // The newest revision of the search range

	FuzzTarget string // The name of the fuzz target binary reproducing the crash
	Testcase   string // The path to the fixed crashing input

	// StepTimeout bounds one build plus reproduce step. Zero means no bound.
	StepTimeout time.Duration

	Log *logrus.Logger // The log to which information gets printed to

	Builder    oracle.BuildOracle
	Reproducer oracle.ReproductionOracle
	Lister     CommitLister
}

// Run bisects the job's revision range and returns the boundary result.
// Every build and reproduce step runs synchronously on the calling
// goroutine; a build or reproduction failure aborts the bisection with an
// error naming the failing revision.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	if j.Log == nil {
		// Mute logger
		j.Log = logrus.New()
		j.Log.SetOutput(io.Discard)
	}

	if j.Builder == nil || j.Reproducer == nil || j.Lister == nil {
		return nil, fmt.Errorf("job is missing a builder, reproducer or lister")
	}
	if j.FuzzTarget == "" || j.Testcase == "" {
		return nil, fmt.Errorf("job is missing a fuzz target or testcase")
	}

	j.Log.Infof("Enumerating revisions %s..%s", j.CommitOld, j.CommitNew)
	rng, err := NewRevisionRange(j.Lister, j.CommitOld, j.CommitNew)
	if err != nil {
		return nil, err
	}
	j.Log.Infof("Bisecting over %d revisions", rng.Len())

	b := &bisector{
		rng:        rng,
		builder:    j.Builder,
		reproducer: j.Reproducer,

		target:      j.FuzzTarget,
		testcase:    j.Testcase,
		stepTimeout: j.StepTimeout,

		log: j.Log.WithField("target", j.FuzzTarget),
	}

	result, err := b.run(ctx)
	if err != nil {
		return nil, err
	}

	j.describeResult(result)
	return result, nil
}

// describeResult enriches a result with commit metadata when the lister
// supports lookups. Failures only cost the metadata, not the result.
func (j *Job) describeResult(result *Result) {
	describer, ok := j.Lister.(CommitDescriber)
	if !ok {
		return
	}
	info, err := describer.Describe(result.Commit.Hash)
	if err != nil {
		j.Log.Warnf("Couldn't get additional commit info of %s - %v", result.Commit.Hash, err)
		return
	}
	result.CommitInfo = info
}
