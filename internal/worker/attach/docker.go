package attach

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerAttachment binds a worker to a running container instead of a
// multiplexer session or raw host process. The worker Manager does not
// create one when spawning; only tmux and raw-process attachments are used
// there.
type DockerAttachment struct {
	cli         *client.Client
	containerID string
	attachConn  io.ReadWriteCloser
}

// StartDockerContainer creates and starts a container from image running
// command, attaching stdin/stdout for interactive use. The image is not
// pulled; it must already be present locally.
func StartDockerContainer(ctx context.Context, image string, command []string, workdir string) (*DockerAttachment, error) {
	cli, err := client.NewClientWithOpts(client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker attachment: new client: %w", err)
	}

	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Cmd:          command,
		WorkingDir:   workdir,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    true,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("docker attachment: create container: %w", err)
	}

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("docker attachment: start container: %w", err)
	}

	attachResp, err := cli.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("docker attachment: attach: %w", err)
	}

	return &DockerAttachment{cli: cli, containerID: created.ID, attachConn: attachResp.Conn}, nil
}

func (d *DockerAttachment) Kind() string        { return "docker" }
func (d *DockerAttachment) PID() int            { return 0 }
func (d *DockerAttachment) SessionName() string { return "" }

// ContainerID returns the backing container's id.
func (d *DockerAttachment) ContainerID() string { return d.containerID }

func (d *DockerAttachment) Send(input string) error {
	_, err := d.attachConn.Write([]byte(input + "\n"))
	return err
}

// Stream copies container output into onOutput, one line at a time, until
// the attach connection closes.
func (d *DockerAttachment) Stream(onOutput OnOutput) {
	scanner := bufio.NewScanner(d.attachConn)
	for scanner.Scan() {
		if onOutput != nil {
			onOutput("stdout", scanner.Text())
		}
	}
}

func (d *DockerAttachment) Pause() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.cli.ContainerPause(ctx, d.containerID)
}

func (d *DockerAttachment) Resume() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.cli.ContainerUnpause(ctx, d.containerID)
}

func (d *DockerAttachment) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	timeout := 10
	return d.cli.ContainerStop(ctx, d.containerID, container.StopOptions{Timeout: &timeout})
}

func (d *DockerAttachment) Close() error {
	return d.attachConn.Close()
}
