package sandbox

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/shellbridge/shellbridge/agent"
	"github.com/shellbridge/shellbridge/agent/stream"
)

// Box is one sandboxed shell agent running in its own container.
type Box struct {
	ID            int
	ContainerName string
	ContainerID   string
	HostPort      int

	agentClient  *agent.Client
	dockerClient *client.Client
}

// Client returns the connected agent client for this box.
func (b *Box) Client() *agent.Client {
	return b.agentClient
}

// OpenShell opens an interpreter session inside the container.
func (b *Box) OpenShell(ctx context.Context) (*stream.RemoteShell, error) {
	return b.agentClient.OpenShell(ctx)
}

// Stop removes the container and everything in it, including any live sessions.
func (b *Box) Stop(ctx context.Context) error {
	b.agentClient.StopHeartbeat()
	err := b.dockerClient.ContainerRemove(ctx, b.ContainerID, types.ContainerRemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	})
	if err != nil {
		return fmt.Errorf("killing container %q: %w", b.ContainerID, err)
	}
	return nil
}

func (b *Box) String() string {
	return fmt.Sprintf("sandbox box id=%d container=%s", b.ID, b.ContainerName)
}
