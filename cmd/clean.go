package cmd

import (
	"context"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/manifoldco/promptui"
	"github.com/moby/moby/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/crashbisect/crashbisect/pkg/oracle"
)

var cleanContainers bool
var cleanAgree bool

var cleanCmd = &cobra.Command{
	Use:     "clean",
	Aliases: []string{"prune", "cleanup"},
	Short:   "Remove the docker containers and images left behind by crashbisect",
	Long: `Remove the docker containers and images left behind by crashbisect.

Compile containers, running or stopped, and the project images they ran from are
found by the label crashbisect attaches to everything it creates.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runClean(newLogger()))
	},
}

// cleanFilters returns the docker filters matching what crashbisect created.
// Containers are additionally matched on the compile container name prefix,
// a label alone could catch containers of unrelated images carrying it.
func cleanFilters() (containers, images filters.Args) {
	label := filters.Arg("label", oracle.ContainerLabel+"=1")
	return filters.NewArgs(label, filters.Arg("name", oracle.ContainerNamePrefix)), filters.NewArgs(label)
}

func runClean(log *logrus.Logger) int {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.Errorf("Failed to create docker client - %v", err)
		return 1
	}
	defer cli.Close()

	containerFilters, imageFilters := cleanFilters()

	containers, err := cli.ContainerList(context.Background(), container.ListOptions{
		All:     true,
		Filters: containerFilters,
	})
	if err != nil {
		log.Errorf("Failed to list containers - %v", err)
		return 1
	}

	var images []image.Summary
	if !cleanContainers {
		images, err = cli.ImageList(context.Background(), image.ListOptions{
			All:     true,
			Filters: imageFilters,
		})
		if err != nil {
			log.Errorf("Failed to list images - %v", err)
			return 1
		}
	}

	if len(containers)+len(images) == 0 {
		log.Warn("Nothing to clean up")
		return 0
	}

	log.Warnf("About to delete %d containers and %d images", len(containers), len(images))
	if !cleanAgree {
		prompt := promptui.Prompt{Label: "Proceed", IsConfirm: true}
		if _, err := prompt.Run(); err != nil {
			log.Warn("Aborting")
			return 0
		}
	}

	for _, c := range containers {
		log.Infof("Deleting container %s (ID: %s)", c.Names[0][1:], c.ID)
		if err := cli.ContainerRemove(context.Background(), c.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Errorf("Failed to remove container %s - %v", c.ID, err)
			return 1
		}
	}

	for _, img := range images {
		log.Infof("Deleting image %s (ID: %s)", img.RepoTags[0], img.ID)
		if _, err := cli.ImageRemove(context.Background(), img.ID, image.RemoveOptions{
			PruneChildren: true,
			Force:         true,
		}); err != nil {
			log.Errorf("Failed to remove image %s - %v", img.ID, err)
			return 1
		}
	}

	log.Warnf("Removed %d containers and %d images", len(containers), len(images))
	return 0
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVarP(&cleanContainers, "containers", "c", false, "Only delete containers, no images")
	cleanCmd.Flags().BoolVarP(&cleanAgree, "assume-yes", "y", false, "Skip the confirmation prompt")
}
