package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dchest/uniuri"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/crashbisect/crashbisect/internal/workspace"
)

// ContainerLabel marks every image and container created by crashbisect, so
// that the clean command can find them again.
const ContainerLabel = "crashbisect"

// ContainerNamePrefix prefixes the name of every compile container.
const ContainerNamePrefix = "crashbisect-"

// A DockerBuilder is a BuildOracle which compiles a project's fuzzers inside
// a docker container. Each Build call checks the requested commit out in
// RepoDir, mounts it into a fresh container of the project image and runs the
// compile step, leaving the built fuzz targets in OutDir.
//
// OutDir is a single shared location: every Build overwrites the previous
// artifact. A weighted semaphore serializes Build calls so that two builds
// can never write to it at the same time.
type DockerBuilder struct {
	Config BuildConfig

	RepoDir  string // The checked-out working tree of the project repository
	RepoName string // The name under which the tree gets mounted below /src
	OutDir   string // The shared build output directory

	// DockerfilePath optionally points at the dockerfile of the project
	// image. If set and the image does not exist yet, it gets built once and
	// tagged with the config digest.
	DockerfilePath string

	log  *logrus.Entry
	slot *semaphore.Weighted

	imageReady bool
}

// NewDockerBuilder returns a DockerBuilder for the passed config whose builds
// are serialized on a single build slot.
func NewDockerBuilder(config BuildConfig, repoDir, repoName, outDir string, log *logrus.Logger) *DockerBuilder {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &DockerBuilder{
		Config:   config,
		RepoDir:  repoDir,
		RepoName: repoName,
		OutDir:   outDir,

		log:  log.WithField("project", config.Project),
		slot: semaphore.NewWeighted(1),
	}
}

// Build checks out the passed commit and compiles the project's fuzzers into
// the shared out directory. The returned artifact is only valid until the
// next Build call.
func (d *DockerBuilder) Build(ctx context.Context, commit string) (*Artifact, error) {
	if err := d.slot.Acquire(ctx, 1); err != nil {
		return nil, &BuildError{Commit: commit, Err: err}
	}
	defer d.slot.Release(1)

	if err := workspace.Checkout(d.RepoDir, commit); err != nil {
		return nil, &BuildError{Commit: commit, Err: err}
	}

	apiClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &BuildError{Commit: commit, Err: errors.Join(fmt.Errorf("docker client creation failed"), err)}
	}
	defer apiClient.Close()

	if err := d.ensureImage(ctx, apiClient); err != nil {
		return nil, &BuildError{Commit: commit, Err: err}
	}

	containerConfig := &container.Config{
		Image: d.Config.Image(),
		Cmd:   []string{"compile"},
		Env: []string{
			"FUZZING_ENGINE=" + d.Config.Engine,
			"SANITIZER=" + d.Config.Sanitizer,
			"ARCHITECTURE=" + d.Config.Architecture,
			"OUT=/out",
		},
		Labels: map[string]string{ContainerLabel: "1"},
	}
	hostConfig := &container.HostConfig{
		Binds: []string{
			d.RepoDir + ":/src/" + d.RepoName,
			d.OutDir + ":/out",
		},
	}

	containerName := ContainerNamePrefix + uniuri.New()
	resp, err := apiClient.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return nil, &BuildError{Commit: commit, Err: errors.Join(fmt.Errorf("compile container creation with name %s failed", containerName), err)}
	}
	defer apiClient.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	d.log.Infof("Compiling commit %s in container %s", commit, containerName)
	if err := apiClient.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, &BuildError{Commit: commit, Err: errors.Join(fmt.Errorf("compile container start with name %s failed", containerName), err)}
	}

	statusCh, errCh := apiClient.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, &BuildError{Commit: commit, Err: errors.Join(fmt.Errorf("waiting on compile container %s failed", containerName), err)}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return nil, &BuildError{
				Commit: commit,
				Output: d.containerTail(resp.ID),
				Err:    fmt.Errorf("compile exited with status %d", status.StatusCode),
			}
		}
	}

	d.log.Infof("Built fuzzers of commit %s into %s", commit, d.OutDir)

	return &Artifact{
		Commit: commit,
		OutDir: d.OutDir,
		Config: d.Config,
	}, nil
}

// ensureImage makes sure the project image exists, building it from
// DockerfilePath if necessary.
func (d *DockerBuilder) ensureImage(ctx context.Context, apiClient *client.Client) error {
	if d.imageReady {
		return nil
	}

	imageName := d.Config.Image()
	images, err := apiClient.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return errors.Join(fmt.Errorf("failed to list docker images"), err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				d.imageReady = true
				return nil
			}
		}
	}

	if d.DockerfilePath == "" {
		return fmt.Errorf("project image %s does not exist and no dockerfile was configured to build it", imageName)
	}

	d.log.Infof("Building project image %s", imageName)
	buildCtx, err := archive.TarWithOptions(d.RepoDir, &archive.TarOptions{})
	if err != nil {
		return errors.Join(fmt.Errorf("tar creation of build context at %s failed", d.RepoDir), err)
	}
	buildRes, err := apiClient.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{imageName},
		Dockerfile:  d.DockerfilePath,
		ForceRemove: true,
		Labels:      map[string]string{ContainerLabel: "1"},
	})
	if err != nil {
		return errors.Join(fmt.Errorf("image build of %s failed", imageName), err)
	}
	out, err := io.ReadAll(buildRes.Body)
	if err != nil {
		return err
	}
	d.log.Tracef("Image build output:\n%s", out)

	// The build API streams its result, a trailing error-detail message means
	// the build failed
	strOut := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	if strings.HasPrefix(strOut[len(strOut)-1], `{"errorDetail"`) {
		return fmt.Errorf("image build of %s failed, output: %s", imageName, out)
	}

	d.imageReady = true
	return nil
}

// containerTail returns the trailing log output of a container, for build
// failure diagnostics. Errors reading the logs yield an empty string, the
// tail is best effort.
func (d *DockerBuilder) containerTail(containerID string) string {
	apiClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return ""
	}
	defer apiClient.Close()

	logs, err := apiClient.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "50",
	})
	if err != nil {
		return ""
	}
	defer logs.Close()

	out, err := io.ReadAll(logs)
	if err != nil {
		return ""
	}
	return string(out)
}
