// Package sandbox runs the shell agent inside a Docker container, so remote sessions get an
// interpreter that cannot see the host. The underlying host must have a Docker daemon
// running. This supports standard environment variables for configuring the Docker client
// (DOCKER_HOST etc.).
package sandbox

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/shellbridge/shellbridge/agent"
	"github.com/shellbridge/shellbridge/internal/files"
	inet "github.com/shellbridge/shellbridge/internal/net"
	"go.uber.org/zap"
)

type CreateContainerConfig struct {
	Name             string
	ContainerConfig  *container.Config
	HostConfig       *container.HostConfig
	NetworkingConfig *network.NetworkingConfig
	Platform         *specs.Platform
}

// Sandbox launches shell agents as Docker containers and hands out connected clients.
type Sandbox struct {
	Log                   *zap.SugaredLogger
	AgentBin              string
	BaseImage             string
	ContainerPrefix       string
	DockerClient          *client.Client
	CreateContainerConfig func(*CreateContainerConfig) error

	boxesMut     sync.Mutex
	boxes        []*Box
	boxIDcounter int

	imagePulled bool
}

func (s *Sandbox) WithLogger(l *zap.SugaredLogger) *Sandbox {
	s.Log = l.Named("sandbox")
	return s
}

func (s *Sandbox) WithAgentBin(p string) *Sandbox {
	s.AgentBin = p
	return s
}

func (s *Sandbox) WithBaseImage(img string) *Sandbox {
	s.BaseImage = img
	return s
}

func (s *Sandbox) WithCreateContainerConfig(f func(*CreateContainerConfig) error) *Sandbox {
	s.CreateContainerConfig = f
	return s
}

// New creates a new Docker sandbox.
// By default, this looks for the shell agent binary by searching up from PWD for a
// "shellagent" file.
func New() (*Sandbox, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("instantiating default logger: %w", err)
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("building Docker client: %w", err)
	}
	s := &Sandbox{
		BaseImage:       "fedora", // default to fedora b/c it includes curl
		DockerClient:    dockerClient,
		ContainerPrefix: uuid.NewString()[:8],
	}

	s = s.WithLogger(log.Sugar())

	if s.AgentBin == "" {
		bin, err := files.FindAgentBin()
		if err != nil {
			return nil, fmt.Errorf("finding shell agent bin: %w", err)
		}
		s.AgentBin = bin
	}

	return s, nil
}

func MustNew() *Sandbox {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Sandbox) ensureImagePulled(ctx context.Context) error {
	if s.imagePulled {
		return nil
	}
	out, err := s.DockerClient.ImagePull(ctx, s.BaseImage, types.ImagePullOptions{})
	if err != nil {
		if out != nil {
			out.Close()
		}
		return err
	}
	defer out.Close()
	_, err = io.Copy(io.Discard, out)
	if err != nil {
		return fmt.Errorf("reading Docker pull response: %w", err)
	}
	s.imagePulled = true
	return nil
}

// Launch starts one sandboxed shell agent and waits until it is serving.
func (s *Sandbox) Launch(ctx context.Context) (*Box, error) {
	err := s.ensureImagePulled(ctx)
	if err != nil {
		return nil, fmt.Errorf("pulling image: %w", err)
	}

	s.boxesMut.Lock()
	s.boxIDcounter++
	id := s.boxIDcounter
	s.boxesMut.Unlock()

	containerName := fmt.Sprintf("shellbridge-%s-%d", s.ContainerPrefix, id)

	hostPort, err := inet.GetEphemeralTCPPort()
	if err != nil {
		return nil, fmt.Errorf("acquiring ephemeral port: %w", err)
	}

	ccConfig := CreateContainerConfig{
		ContainerConfig: &container.Config{
			Image: s.BaseImage,
			Entrypoint: []string{"/shellagent",
				"--on-heartbeat-failure", "exit",
				"--listen-addr", "0.0.0.0:8080",
			},
			ExposedPorts: nat.PortSet{"8080": struct{}{}},
		},
		HostConfig: &container.HostConfig{
			Binds:        []string{fmt.Sprintf("%s:/shellagent", s.AgentBin)},
			PortBindings: nat.PortMap{"8080": []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hostPort)}}},
		},
		Name: containerName,
	}

	if s.CreateContainerConfig != nil {
		err := s.CreateContainerConfig(&ccConfig)
		if err != nil {
			return nil, fmt.Errorf("calling CreateContainerConfig function: %w", err)
		}
	}

	createResp, err := s.DockerClient.ContainerCreate(
		ctx,
		ccConfig.ContainerConfig,
		ccConfig.HostConfig,
		ccConfig.NetworkingConfig,
		ccConfig.Platform,
		ccConfig.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("creating Docker container: %w", err)
	}

	containerID := createResp.ID

	err = s.DockerClient.ContainerStart(ctx, containerID, types.ContainerStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("starting container %q: %w", containerID, err)
	}

	agentClient, err := agent.NewClient(s.Log, "127.0.0.1", hostPort, agent.WithClientWaitInterval(100*time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("building shellagent client: %w", err)
	}

	box := &Box{
		ID:            id,
		ContainerName: containerName,
		ContainerID:   containerID,
		HostPort:      hostPort,
		agentClient:   agentClient,
		dockerClient:  s.DockerClient,
	}

	s.boxesMut.Lock()
	s.boxes = append(s.boxes, box)
	s.boxesMut.Unlock()

	box.agentClient.StartHeartbeat()
	if err := box.agentClient.WaitForServer(ctx); err != nil {
		return nil, fmt.Errorf("waiting for sandboxed agent: %w", err)
	}
	return box, nil
}

// Cleanup destroys all sandboxed agents.
func (s *Sandbox) Cleanup(ctx context.Context) error {
	s.boxesMut.Lock()
	boxes := s.boxes
	s.boxes = nil
	s.boxIDcounter = 0
	s.boxesMut.Unlock()

	for _, b := range boxes {
		err := b.Stop(ctx)
		if err != nil {
			return fmt.Errorf("stopping box %s: %w", b, err)
		}
	}
	return nil
}
