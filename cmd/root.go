package cmd

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var verbosity int
var quiet bool

var rootCmd = &cobra.Command{
	Use:   "crashbisect",
	Short: "Bisect fuzzing crashes to their offending commit and run fuzzers under a CI time budget",
	Long:  ``,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// newLogger builds the logger which gets injected into jobs, schedulers and
// oracles, configured from the global verbosity flags.
func newLogger() *logrus.Logger {
	log := logrus.New()

	formatter := prefixed.TextFormatter{
		FullTimestamp: true,
	}
	formatter.SetColorScheme(&prefixed.ColorScheme{})
	log.SetFormatter(&formatter)

	if quiet {
		log.SetOutput(io.Discard)
	} else if verbosity == 0 {
		log.SetLevel(logrus.WarnLevel)
	} else if verbosity == 1 {
		log.SetLevel(logrus.InfoLevel)
	} else if verbosity == 2 {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.TraceLevel)
	}

	return log
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity, can be passed multiple times")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all log output")
}
