package logs

import (
	"context"
	"fmt"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

const defaultTail = 100

// LogReader is the part of the coordinator the logs service needs.
type LogReader interface {
	Refresh(ctx context.Context, kind model.ResourceKind) error
	List(kind model.ResourceKind) []model.TrackedResource
	ContainerLogs(ctx context.Context, id string, tail int) (string, error)
}

// ServiceConfig is the configuration for the logs service.
type ServiceConfig struct {
	Reader LogReader
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Reader == nil {
		return fmt.Errorf("log reader is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service reads container logs.
type Service struct {
	reader LogReader
	logger log.Logger
}

// NewService creates a new logs service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		reader: cfg.Reader,
		logger: cfg.Logger,
	}, nil
}

// Request represents the logs request parameters.
type Request struct {
	// NameOrID is the container ID or name.
	NameOrID string
	// Tail is the number of lines, defaults to 100.
	Tail int
}

// Run returns the last lines of the container logs.
func (s *Service) Run(ctx context.Context, req Request) (string, error) {
	if req.Tail <= 0 {
		req.Tail = defaultTail
	}

	if err := s.reader.Refresh(ctx, model.KindContainers); err != nil {
		return "", fmt.Errorf("could not refresh containers: %w", err)
	}

	c, err := model.FindResource(s.reader.List(model.KindContainers), req.NameOrID)
	if err != nil {
		return "", err
	}

	s.logger.Debugf("reading %d log lines of container %s", req.Tail, c.ID)
	logs, err := s.reader.ContainerLogs(ctx, c.ID, req.Tail)
	if err != nil {
		return "", fmt.Errorf("could not read %s logs: %w", c.Name(), err)
	}

	return logs, nil
}
