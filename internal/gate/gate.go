package gate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/store"
)

// ResourceStore is the store view the gate needs.
type ResourceStore interface {
	BeginAction(kind model.ResourceKind, id string, action model.PendingAction) (store.Ticket, error)
	EndAction(kind model.ResourceKind, id, token string, ticket store.Ticket, confirmed *model.ResourcePatch)
}

var _ ResourceStore = &store.Store{}

// RequestFunc issues the remote action and returns the confirmed fields of the resource.
type RequestFunc func(ctx context.Context) (model.ResourcePatch, error)

// GateConfig is the configuration for the action gate.
type GateConfig struct {
	Store  ResourceStore
	Logger log.Logger
}

func (c *GateConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "gate.Gate"})
	return nil
}

// Gate guards mutating actions so at most one is outstanding per resource, and
// reconciles the optimistic state shown meanwhile with the remote result.
type Gate struct {
	store  ResourceStore
	logger log.Logger
}

// NewGate returns a new action gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Gate{
		store:  cfg.Store,
		logger: cfg.Logger,
	}, nil
}

// Invoke runs fn for the action on the resource. It fails with ErrAlreadyInFlight if an action
// for the resource is outstanding. It never retries, a failed action needs to be invoked again.
func (g *Gate) Invoke(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, fn RequestFunc) (model.ResourcePatch, error) {
	token := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	logger := g.logger.WithValues(log.Kv{"kind": kind, "id": id, "action": action, "token": token})

	ticket, err := g.store.BeginAction(kind, id, model.PendingAction{Action: action, Token: token})
	if err != nil {
		if errors.Is(err, model.ErrAlreadyInFlight) {
			logger.Debugf("Action ignored, another one is in flight")
		}
		return model.ResourcePatch{}, err
	}

	logger.Debugf("Invoking action")
	patch, err := fn(ctx)
	if err != nil {
		g.store.EndAction(kind, id, token, ticket, nil)
		logger.Warningf("Action failed: %s", err)
		return model.ResourcePatch{}, fmt.Errorf("could not %s %s %q: %w", action, kind, id, err)
	}

	if action == model.ActionDelete {
		patch.Removed = true
	}
	g.store.EndAction(kind, id, token, ticket, &patch)
	logger.Debugf("Action confirmed")

	return patch, nil
}
