package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/goscribe/internal/domain"
	"github.com/dontdude/goscribe/internal/platform/ffmpeg"
)

const (
	// workDir is where the host temp dir is mounted inside the container.
	workDir = "/work"
	// memoryLimit caps a single conversion container.
	memoryLimit = 512 * 1024 * 1024
	logTail     = "20"
)

// Converter runs ffmpeg in an ephemeral container, one container per job.
// The host temp dir is bind mounted so inputs and outputs never leave the host filesystem.
type Converter struct {
	cli     *client.Client
	image   string
	hostDir string
}

// Check if Converter implements domain.Converter
var _ domain.Converter = (*Converter)(nil)

// NewConverter connects to the Docker daemon and pulls image.
// Inputs handed to Convert must live under hostDir.
// An unreachable daemon or a failed pull is a startup failure.
func NewConverter(ctx context.Context, imageName, hostDir string) (*Converter, error) {
	absDir, err := filepath.Abs(hostDir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", hostDir, err)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w: %w", err, domain.ErrStartup)
	}

	// Ping Docker to ensure connection
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("connecting to docker daemon: %w: %w", err, domain.ErrStartup)
	}

	// Pull once at startup, so the first job does not pay for it.
	slog.Info("Pulling image", "image", imageName)
	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("pulling image %s: %w: %w", imageName, err, domain.ErrStartup)
	}
	// Drain the response body to ensure the pull completes properly.
	_, err = io.Copy(io.Discard, reader)
	_ = reader.Close()
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("pulling image %s: %w: %w", imageName, err, domain.ErrStartup)
	}

	slog.Info("Docker converter initialized", "image", imageName, "dir", absDir)
	return &Converter{cli: cli, image: imageName, hostDir: absDir}, nil
}

// ContainerPath maps a file under hostDir to its path inside the container.
func ContainerPath(hostDir, file string) (string, error) {
	absFile, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(hostDir, absFile)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside of %s", file, hostDir)
	}
	return path.Join(workDir, filepath.ToSlash(rel)), nil
}

// Convert runs ffmpeg for inputPath in a fresh container and returns the normalized file path.
func (c *Converter) Convert(ctx context.Context, inputPath string) (string, error) {
	out := domain.NormalizedPath(inputPath)
	in, err := ContainerPath(c.hostDir, inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", err, domain.ErrConversion)
	}
	inContainerOut, err := ContainerPath(c.hostDir, out)
	if err != nil {
		return "", fmt.Errorf("%w: %w", err, domain.ErrConversion)
	}

	// 1. Create Container with Limits
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:      c.image,
		Entrypoint: []string{"ffmpeg"},
		Cmd:        ffmpeg.Args(in, inContainerOut),
	}, &container.HostConfig{
		Binds: []string{c.hostDir + ":" + workDir},
		Resources: container.Resources{
			Memory: memoryLimit,
		},
		NetworkMode: "none",
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container: %w: %w", err, domain.ErrConversion)
	}
	defer c.remove(ctx, resp.ID)
	slog.DebugContext(ctx, "Container created", "containerID", resp.ID)

	// 2. Start and wait for ffmpeg to exit
	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w: %w", err, domain.ErrConversion)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var status container.WaitResponse
	select {
	case err := <-errCh:
		return "", fmt.Errorf("waiting for container: %w: %w", err, domain.ErrConversion)
	case status = <-statusCh:
	}

	if status.Error != nil {
		return "", fmt.Errorf("container %s: %s: %w", resp.ID[:12], status.Error.Message, domain.ErrConversion)
	}
	if status.StatusCode != 0 {
		return "", fmt.Errorf("ffmpeg %s: exit status %d: %s: %w",
			filepath.Base(inputPath), status.StatusCode, c.logs(ctx, resp.ID), domain.ErrConversion)
	}
	return out, nil
}

// logs returns the tail of the container output, used as the failure message.
func (c *Converter) logs(ctx context.Context, id string) string {
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       logTail,
	})
	if err != nil {
		return "logs unavailable: " + err.Error()
	}
	defer func() {
		_ = rc.Close()
	}()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		slog.WarnContext(ctx, "Failed to read container logs", "containerID", id, "error", err)
	}
	return ffmpeg.Tail(buf.String(), 512)
}

func (c *Converter) remove(ctx context.Context, id string) {
	err := c.cli.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
	if err != nil {
		slog.WarnContext(ctx, "Failed to remove container", "containerID", id, "error", err)
	}
}

// Close releases the Docker client.
func (c *Converter) Close() error {
	return c.cli.Close()
}
