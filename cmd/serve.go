package cmd

import (
	"path/filepath"

	"github.com/dchest/uniuri"
	"github.com/phayes/freeport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crashbisect/crashbisect/internal/server"
	"github.com/crashbisect/crashbisect/internal/workspace"
	"github.com/crashbisect/crashbisect/pkg/bisect"
	"github.com/crashbisect/crashbisect/pkg/oracle"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server which runs bisection jobs on request",
	Long: `Start an HTTP server which runs bisection jobs on request.

POST a job description to /jobs to start a bisection; poll /jobs/:jobId for its
state and result. Each job gets its own checkout below the workspace storage
directory, builds stay serialized within a job.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		ws, err := workspace.Open()
		if err != nil {
			logrus.Fatalf("Failed to open workspace - %v", err)
		}

		if servePort == 0 {
			servePort, err = freeport.GetFreePort()
			if err != nil {
				logrus.Fatalf("Failed to pick a free port - %v", err)
			}
		}

		srv := server.New(newServerJobFactory(ws, log), log)

		log.Warnf("Serving bisection jobs on localhost:%d", servePort)
		if err := srv.Run(servePort); err != nil {
			logrus.Fatalf("Failed to run webserver - %v", err)
		}
	},
}

// newServerJobFactory wires incoming requests to real git and docker backed
// jobs inside the passed workspace.
func newServerJobFactory(ws *workspace.Workspace, log *logrus.Logger) server.JobFactory {
	return func(req server.JobRequest) (*bisect.Job, error) {
		config := oracle.BuildConfig{
			Project:      req.Project,
			Repository:   req.Repository,
			Engine:       req.Engine,
			Sanitizer:    req.Sanitizer,
			Architecture: req.Architecture,
		}
		if config.Engine == "" {
			config.Engine = "libfuzzer"
		}
		if config.Sanitizer == "" {
			config.Sanitizer = "address"
		}
		if config.Architecture == "" {
			config.Architecture = "x86_64"
		}

		repoDir := filepath.Join(ws.Storage, "job-"+uniuri.New())
		log.Infof("Cloning %s into %s...", config.Repository, repoDir)
		if err := workspace.Clone(config.Repository, repoDir); err != nil {
			return nil, err
		}

		return &bisect.Job{
			Config: config,

			CommitOld: req.CommitOld,
			CommitNew: req.CommitNew,

			FuzzTarget: req.FuzzTarget,
			Testcase:   req.Testcase,

			Log: log,

			Lister:     &bisect.GitLister{RepoDir: repoDir},
			Builder:    oracle.NewDockerBuilder(config, repoDir, repositoryName(config.Repository), ws.Out, log),
			Reproducer: oracle.NewRunner(ws.Out, log),
		}, nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 40032, "The port on which to start the server, 0 picks a free one")
}
