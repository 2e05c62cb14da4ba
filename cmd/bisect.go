package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crashbisect/crashbisect/internal/workspace"
	"github.com/crashbisect/crashbisect/pkg/bisect"
	"github.com/crashbisect/crashbisect/pkg/oracle"
)

var bisectProject string
var bisectRepository string
var bisectCommitOld string
var bisectCommitNew string
var bisectFuzzTarget string
var bisectTestcase string
var bisectEngine string
var bisectSanitizer string
var bisectArchitecture string
var bisectDockerfile string
var bisectStepTimeout time.Duration

var bisectCmd = &cobra.Command{
	Use:   "bisect [job.yml]",
	Short: "Binary-search a commit range for the revision where a crash appeared or disappeared",
	Long: `Binary-search a commit range for the revision where a crash appeared or disappeared.

The crash is pinned by a fixed testcase input and a fuzz target which reproduces it.
Each bisection step checks out one revision, builds the project's fuzzers in a
container and reproduces the testcase against the freshly built target.

The job can either be described by flags or by a job.yml config passed as the only
positional argument.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runBisect(newLogger(), args))
	},
}

func runBisect(log *logrus.Logger, args []string) int {
	job, err := bisectJob(args)
	if err != nil {
		log.Errorf("Failed to set up bisection job - %v", err)
		return 1
	}
	job.Log = log

	ws, err := workspace.Open()
	if err != nil {
		log.Errorf("Failed to open workspace - %v", err)
		return 1
	}

	repoDir, release, err := workspace.Scoped("bisect")
	if err != nil {
		log.Errorf("Failed to create checkout directory - %v", err)
		return 1
	}
	defer release()

	log.Infof("Cloning %s...", job.Config.Repository)
	if err := workspace.Clone(job.Config.Repository, repoDir); err != nil {
		log.Errorf("Failed to clone repository - %v", err)
		return 1
	}

	builder := oracle.NewDockerBuilder(job.Config, repoDir, repositoryName(job.Config.Repository), ws.Out, log)
	builder.DockerfilePath = bisectDockerfile

	job.Lister = &bisect.GitLister{RepoDir: repoDir}
	job.Builder = builder
	job.Reproducer = oracle.NewRunner(ws.Out, log)

	result, err := job.Run(context.Background())
	if err != nil {
		log.Errorf("Bisection failed - %v", err)
		return 1
	}

	switch result.Outcome {
	case bisect.Boundary:
		fmt.Printf("Behavior changed at commit %s\n", result.Commit.Hash)
		if result.CommitInfo.Message != "" {
			fmt.Printf("Message: %s\nDate: %s\nAuthor: %s\n", result.CommitInfo.Message, result.CommitInfo.Date, result.CommitInfo.Author)
		}
		return 0
	case bisect.IdenticalBehavior:
		fmt.Printf("No boundary found: commits %s and %s behave identically, bisection is not possible\n", job.CommitOld, job.CommitNew)
		return 1
	case bisect.SingleRevision:
		fmt.Printf("Commit range contains only %s, nothing to bisect\n", result.Commit.Hash)
		return 1
	}
	return 1
}

// bisectJob builds the job either from a yaml config or from the flags.
func bisectJob(args []string) (*bisect.Job, error) {
	if len(args) == 1 {
		jobYaml, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer jobYaml.Close()
		return bisect.GetJobFromConfig(jobYaml)
	}

	for flag, value := range map[string]string{
		"project":     bisectProject,
		"repository":  bisectRepository,
		"commit-old":  bisectCommitOld,
		"commit-new":  bisectCommitNew,
		"fuzz-target": bisectFuzzTarget,
		"testcase":    bisectTestcase,
	} {
		if value == "" {
			return nil, fmt.Errorf("either a job.yml or the --%s flag is required", flag)
		}
	}

	return &bisect.Job{
		Config: oracle.BuildConfig{
			Project:      bisectProject,
			Repository:   bisectRepository,
			Engine:       bisectEngine,
			Sanitizer:    bisectSanitizer,
			Architecture: bisectArchitecture,
		},

		CommitOld: bisectCommitOld,
		CommitNew: bisectCommitNew,

		FuzzTarget: bisectFuzzTarget,
		Testcase:   bisectTestcase,

		StepTimeout: bisectStepTimeout,
	}, nil
}

// repositoryName derives the mount name of a repository from its URL.
func repositoryName(repository string) string {
	return path.Base(strings.TrimSuffix(repository, ".git"))
}

func init() {
	rootCmd.AddCommand(bisectCmd)

	bisectCmd.Flags().StringVar(&bisectProject, "project", "", "The name of the project where the bug occurred")
	bisectCmd.Flags().StringVar(&bisectRepository, "repository", "", "The URL of the project's main repository")
	bisectCmd.Flags().StringVar(&bisectCommitOld, "commit-old", "", "The oldest commit SHA of the bisected range")
	bisectCmd.Flags().StringVar(&bisectCommitNew, "commit-new", "", "The newest commit SHA of the bisected range")
	bisectCmd.Flags().StringVar(&bisectFuzzTarget, "fuzz-target", "", "The name of the fuzz target reproducing the crash")
	bisectCmd.Flags().StringVar(&bisectTestcase, "testcase", "", "The path to the crashing testcase input")
	bisectCmd.Flags().StringVar(&bisectEngine, "engine", "libfuzzer", "The fuzzing engine the targets were built with")
	bisectCmd.Flags().StringVar(&bisectSanitizer, "sanitizer", "address", "The sanitizer the targets were built with")
	bisectCmd.Flags().StringVar(&bisectArchitecture, "architecture", "x86_64", "The architecture the targets were built for")
	bisectCmd.Flags().StringVar(&bisectDockerfile, "dockerfile", "", "The path to the dockerfile of the project image, relative to the repository root")
	bisectCmd.Flags().DurationVar(&bisectStepTimeout, "step-timeout", 30*time.Minute, "The timeout for one build plus reproduce step")
}
