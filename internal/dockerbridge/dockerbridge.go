// Package dockerbridge runs a generator invocation inside a container
// instead of as a bare subprocess, for worker configurations with
// run_mode: docker. Adapted from the teacher's pkg/discovery/docker
// (Docker Engine client wrapper) and pkg/injection/sidecar
// (create/start/wait/remove sequencing), repurposed from long-lived
// fault-injection sidecars to one-shot generator runs.
package dockerbridge

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Run creates a container from image, bind-mounts hostRepoPath (the
// already-materialized repository checkout) read-write at /work, feeds
// stdin to the container's entrypoint, waits for it to exit, and
// returns its demultiplexed stdout/stderr. The container is always
// removed afterward, mirroring the teacher sidecar manager's
// create-start-wait-remove sequence run synchronously to completion
// instead of left standing as a long-lived sidecar.
func Run(ctx context.Context, image, hostRepoPath string, stdin []byte, args []string) (stdout, stderr []byte, err error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, nil, fmt.Errorf("dockerbridge: create client: %w", err)
	}
	defer cli.Close()

	const containerWorkdir = "/work"
	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:       image,
		Cmd:         args,
		WorkingDir:  containerWorkdir,
		OpenStdin:   true,
		StdinOnce:   true,
		AttachStdin: true,
	}, &container.HostConfig{
		Binds: []string{hostRepoPath + ":" + containerWorkdir},
	}, nil, nil, "")
	if err != nil {
		return nil, nil, fmt.Errorf("dockerbridge: create container: %w", err)
	}
	id := created.ID
	defer cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})

	attach, err := cli.ContainerAttach(ctx, id, container.AttachOptions{Stream: true, Stdin: true})
	if err != nil {
		return nil, nil, fmt.Errorf("dockerbridge: attach stdin: %w", err)
	}

	if err := cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, nil, fmt.Errorf("dockerbridge: start container: %w", err)
	}

	if _, err := attach.Conn.Write(stdin); err != nil {
		attach.Close()
		return nil, nil, fmt.Errorf("dockerbridge: write stdin: %w", err)
	}
	attach.CloseWrite()
	attach.Close()

	statusCh, errCh := cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case waitErr := <-errCh:
		return nil, nil, fmt.Errorf("dockerbridge: wait: %w", waitErr)
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	logs, err := cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, fmt.Errorf("dockerbridge: logs: %w", err)
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("dockerbridge: demux logs: %w", err)
	}

	if exitCode != 0 {
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), fmt.Errorf("dockerbridge: container exited %d", exitCode)
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), nil
}
