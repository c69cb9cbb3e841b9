package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/transport"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
}

// TransportConfig is the configuration for the Docker transport.
type TransportConfig struct {
	Client DockerClient
	// Host is the Docker daemon address, empty uses the environment (DOCKER_HOST...).
	Host string
	// StopTimeout is the grace period before a stopped container is killed.
	StopTimeout time.Duration
	Logger      log.Logger
}

func (c *TransportConfig) defaults() error {
	if c.Client == nil {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if c.Host != "" {
			opts = append(opts, client.WithHost(c.Host))
		}
		cli, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "transport.Docker"})
	return nil
}

// Transport manages the containers kind talking to a Docker daemon directly.
// It doesn't know about automations or scripts, it's meant to be routed by kind.
type Transport struct {
	client      DockerClient
	stopTimeout time.Duration
	logger      log.Logger
}

// NewTransport creates a new Docker transport.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Transport{
		client:      cfg.Client,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger,
	}, nil
}

var (
	_ transport.Transport          = &Transport{}
	_ transport.ContainerLogReader = &Transport{}
	_ transport.DockerChecker      = &Transport{}
)

// FetchCollection lists all the containers, running or not.
func (t *Transport) FetchCollection(ctx context.Context, kind model.ResourceKind) (model.Snapshot, error) {
	if kind != model.KindContainers {
		return model.Snapshot{Kind: kind}, fmt.Errorf("docker only serves containers, not %s: %w", kind, model.ErrNotValid)
	}

	cs, err := t.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return model.Snapshot{Kind: kind}, mapErr("list containers", err)
	}

	snap := model.Snapshot{Kind: kind, Items: make([]model.TrackedResource, 0, len(cs))}
	for _, c := range cs {
		snap.Items = append(snap.Items, summaryToModel(c))
	}
	return snap, nil
}

// InvokeAction starts, stops, restarts or removes a container.
func (t *Transport) InvokeAction(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, _ map[string]string) (model.ResourcePatch, error) {
	if kind != model.KindContainers {
		return model.ResourcePatch{}, fmt.Errorf("docker only serves containers, not %s: %w", kind, model.ErrNotValid)
	}

	timeout := int(t.stopTimeout.Seconds())
	logger := t.logger.WithValues(log.Kv{"container-id": id, "action": action})

	switch action {
	case model.ActionStart:
		if err := t.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return model.ResourcePatch{}, mapErr("start container", err)
		}
		logger.Debugf("Container started")
		return model.StatusPatch(model.ResourceStatusRunning), nil
	case model.ActionStop:
		if err := t.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			return model.ResourcePatch{}, mapErr("stop container", err)
		}
		logger.Debugf("Container stopped")
		return model.StatusPatch(model.ResourceStatusIdle), nil
	case model.ActionRestart:
		if err := t.client.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			return model.ResourcePatch{}, mapErr("restart container", err)
		}
		logger.Debugf("Container restarted")
		return model.StatusPatch(model.ResourceStatusRunning), nil
	case model.ActionDelete:
		if err := t.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			return model.ResourcePatch{}, mapErr("remove container", err)
		}
		logger.Debugf("Container removed")
		return model.ResourcePatch{Removed: true}, nil
	}

	return model.ResourcePatch{}, fmt.Errorf("unknown action %q: %w", action, model.ErrNotValid)
}

// FetchExecutionStatus is not supported, containers have no executions.
func (t *Transport) FetchExecutionStatus(ctx context.Context, runID string) (model.ExecutionReport, error) {
	return model.ExecutionReport{}, fmt.Errorf("docker has no script executions: %w", model.ErrNotValid)
}

// RunExecution is not supported, containers have no executions.
func (t *Transport) RunExecution(ctx context.Context, resourceID string) (string, error) {
	return "", fmt.Errorf("docker has no script executions: %w", model.ErrNotValid)
}

// ContainerLogs returns the last lines of a container logs, stdout and stderr merged.
func (t *Transport) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}

	rc, err := t.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", mapErr("container logs", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("could not read logs: %w: %w", model.ErrTransport, err)
	}

	// Containers without TTY multiplex stdout and stderr.
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, bytes.NewReader(raw)); err != nil {
		return string(raw), nil
	}
	return out.String(), nil
}

// DockerAvailable returns true if the Docker daemon answers.
func (t *Transport) DockerAvailable(ctx context.Context) (bool, error) {
	_, err := t.client.Ping(ctx)
	if err != nil {
		t.logger.Debugf("Docker not available: %s", err)
		return false, nil
	}
	return true, nil
}

func summaryToModel(c container.Summary) model.TrackedResource {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	ports := make([]string, 0, len(c.Ports))
	for _, p := range c.Ports {
		if p.PublicPort != 0 {
			ports = append(ports, fmt.Sprintf("%s:%d->%d/%s", p.IP, p.PublicPort, p.PrivatePort, p.Type))
			continue
		}
		ports = append(ports, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
	}

	state := string(c.State)
	st := model.ContainerStateStatus(state)

	return model.TrackedResource{
		ID:   c.ID,
		Kind: model.KindContainers,
		Fields: map[string]string{
			"name":    name,
			"image":   c.Image,
			"state":   state,
			"status":  c.Status,
			"ports":   strings.Join(ports, ", "),
			"created": time.Unix(c.Created, 0).UTC().Format(time.RFC3339),
		},
		Status:  st,
		Running: st == model.ResourceStatusRunning,
	}
}

func mapErr(op string, err error) error {
	if cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) || cerrdefs.IsInvalidArgument(err) {
		return &model.RemoteRejectedError{Message: fmt.Sprintf("could not %s: %s", op, err)}
	}
	return fmt.Errorf("could not %s: %w: %w", op, model.ErrTransport, err)
}
