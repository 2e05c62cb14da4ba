package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crashbisect/crashbisect/internal/workspace"
	"github.com/crashbisect/crashbisect/pkg/fuzzrun"
	"github.com/crashbisect/crashbisect/pkg/oracle"
)

var buildFuzzersRepository string
var buildFuzzersEngine string
var buildFuzzersSanitizer string
var buildFuzzersArchitecture string
var buildFuzzersDockerfile string

var buildFuzzersCmd = &cobra.Command{
	Use:   "build-fuzzers project repo-name commit",
	Short: "Build a project's fuzzers at a specific commit into the workspace out directory",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runBuildFuzzers(newLogger(), args[0], args[1], args[2]))
	},
}

func runBuildFuzzers(log *logrus.Logger, project, repoName, commit string) int {
	ws, err := workspace.Open()
	if err != nil {
		log.Errorf("Failed to open workspace - %v", err)
		return 1
	}

	repository := buildFuzzersRepository
	if repository == "" {
		repository = "https://github.com/" + repoName + ".git"
	}

	repoDir := filepath.Join(ws.Storage, path.Base(strings.TrimSuffix(repoName, ".git")))
	if _, err := os.Stat(repoDir); os.IsNotExist(err) {
		log.Infof("Cloning %s into %s...", repository, repoDir)
		if err := workspace.Clone(repository, repoDir); err != nil {
			log.Errorf("Failed to clone repository - %v", err)
			return 1
		}
	}

	config := oracle.BuildConfig{
		Project:      project,
		Repository:   repository,
		Engine:       buildFuzzersEngine,
		Sanitizer:    buildFuzzersSanitizer,
		Architecture: buildFuzzersArchitecture,
	}

	builder := oracle.NewDockerBuilder(config, repoDir, path.Base(repoDir), ws.Out, log)
	builder.DockerfilePath = buildFuzzersDockerfile

	if _, err := builder.Build(context.Background(), commit); err != nil {
		log.Errorf("Failed to build fuzzers - %v", err)
		return 1
	}

	log.Infof("Built fuzzers of %s at %s into %s", project, commit, ws.Out)
	return 0
}

var runFuzzersCmd = &cobra.Command{
	Use:   "run-fuzzers project fuzz-seconds",
	Short: "Run all built fuzzers under a shared time budget, stopping at the first crash",
	Long: `Run all built fuzzers under a shared time budget, stopping at the first crash.

The fuzz targets are discovered in the workspace out directory and each receives an
equal share of the budget. Targets run one at a time in discovery order; as soon as
one finds a crash the remaining targets are skipped, the triggering input is copied
to <out>/testcase and the command exits with code 2.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		seconds, err := strconv.Atoi(args[1])
		if err != nil || seconds <= 0 {
			logrus.Fatalf("%s is not a valid fuzzing budget in seconds", args[1])
		}
		os.Exit(runRunFuzzers(newLogger(), args[0], time.Duration(seconds)*time.Second))
	},
}

func runRunFuzzers(log *logrus.Logger, project string, budget time.Duration) int {
	ws, err := workspace.Open()
	if err != nil {
		log.Errorf("Failed to open workspace - %v", err)
		return fuzzrun.StatusError.ExitCode()
	}

	paths, err := fuzzrun.FindFuzzTargets(ws.Out)
	if err != nil {
		log.Errorf("Failed to discover fuzz targets in %s - %v", ws.Out, err)
		return fuzzrun.StatusError.ExitCode()
	}

	targets := make([]fuzzrun.FuzzTarget, len(paths))
	for i, p := range paths {
		targets[i] = fuzzrun.FuzzTarget{Project: project, Path: p}
	}

	scheduler := &fuzzrun.Scheduler{
		Runner: oracle.NewRunner(ws.Out, log),
		Log:    log,
	}

	outcome, err := scheduler.Run(context.Background(), targets, budget)
	if err != nil {
		log.Errorf("Fuzzing run failed - %v", err)
		return fuzzrun.StatusError.ExitCode()
	}

	if outcome.CrashFound {
		fmt.Printf("Target %s found a crash:\n%s\n", outcome.Target, outcome.Signature.StackTrace)
		if outcome.Signature.InputPath != "" {
			dest := filepath.Join(ws.Out, "testcase")
			if err := copy.Copy(outcome.Signature.InputPath, dest); err != nil {
				log.Errorf("Failed to persist crash input to %s - %v", dest, err)
				return fuzzrun.StatusError.ExitCode()
			}
			fmt.Printf("Crash input saved to %s\n", dest)
		}
	}

	return outcome.Status().ExitCode()
}

func init() {
	rootCmd.AddCommand(buildFuzzersCmd)
	rootCmd.AddCommand(runFuzzersCmd)

	buildFuzzersCmd.Flags().StringVar(&buildFuzzersRepository, "repository", "", "The repository URL, inferred from repo-name if omitted")
	buildFuzzersCmd.Flags().StringVar(&buildFuzzersEngine, "engine", "libfuzzer", "The fuzzing engine to build for")
	buildFuzzersCmd.Flags().StringVar(&buildFuzzersSanitizer, "sanitizer", "address", "The sanitizer to build with")
	buildFuzzersCmd.Flags().StringVar(&buildFuzzersArchitecture, "architecture", "x86_64", "The architecture to build for")
	buildFuzzersCmd.Flags().StringVar(&buildFuzzersDockerfile, "dockerfile", "", "The path to the dockerfile of the project image, relative to the repository root")
}
