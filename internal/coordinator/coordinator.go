package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slok/rctl/internal/events"
	"github.com/slok/rctl/internal/gate"
	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/poll"
	"github.com/slok/rctl/internal/storage"
	"github.com/slok/rctl/internal/store"
	"github.com/slok/rctl/internal/transport"
)

// SignalSource is the push channel the coordinator listens to for refresh signals.
type SignalSource interface {
	OnSignal(l func(events.Signal)) (unsubscribe func())
	Run(ctx context.Context) error
}

// ErrorEvent is a background failure of the coordinator.
type ErrorEvent struct {
	Kind model.ResourceKind
	Op   string
	Err  error
}

// ExecutionListener receives the finished event of an execution.
type ExecutionListener func(model.ExecutionResult)

// Config is the coordinator configuration.
type Config struct {
	Transport transport.Transport
	// Store is optional, a new one is created when missing.
	Store *store.Store
	// Channel is optional, without it only explicit and periodic refreshes happen.
	Channel SignalSource
	// History is optional, finished executions are saved on it when set.
	History         storage.ExecutionRepository
	Kinds           []model.ResourceKind
	PollInterval    time.Duration
	PollMaxAttempts int
	// RefreshInterval enables a periodic refresh of every kind while running.
	RefreshInterval time.Duration
	Logger          log.Logger
}

func (c *Config) defaults() error {
	if c.Transport == nil {
		return fmt.Errorf("transport is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "coordinator.Coordinator"})

	if c.Store == nil {
		s, err := store.NewStore(store.StoreConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create store: %w", err)
		}
		c.Store = s
	}
	if len(c.Kinds) == 0 {
		c.Kinds = model.AllKinds()
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval can't be negative")
	}

	return nil
}

type waiter struct {
	minSeq uint64
	ch     chan error
}

// refresher serializes the fetches of one collection.
type refresher struct {
	mu      sync.Mutex
	running bool
	pending bool
	started uint64
	waiters []waiter
}

// Coordinator keeps the resource store in sync with the server. It decides when a
// collection is fetched, runs user actions through the action gate and tracks
// executions until they finish.
type Coordinator struct {
	transport       transport.Transport
	store           *store.Store
	gate            *gate.Gate
	supervisor      *poll.Supervisor
	channel         SignalSource
	history         storage.ExecutionRepository
	kinds           []model.ResourceKind
	refreshInterval time.Duration
	logger          log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	refreshers map[model.ResourceKind]*refresher

	mu          sync.Mutex
	listenerSeq uint64
	errorLs     map[uint64]func(ErrorEvent)
	finishLs    map[string]map[uint64]ExecutionListener
	anyFinishLs map[uint64]ExecutionListener
	tracked     map[string]struct{}
	recent      *poll.RecentResults
}

// New returns a new coordinator.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	g, err := gate.NewGate(gate.GateConfig{Store: cfg.Store, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create action gate: %w", err)
	}

	sup, err := poll.NewSupervisor(poll.SupervisorConfig{
		Fetcher:     cfg.Transport,
		Store:       cfg.Store,
		Kind:        model.KindScripts,
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create poll supervisor: %w", err)
	}

	refreshers := make(map[model.ResourceKind]*refresher, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		refreshers[k] = &refresher{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		transport:       cfg.Transport,
		store:           cfg.Store,
		gate:            g,
		supervisor:      sup,
		channel:         cfg.Channel,
		history:         cfg.History,
		kinds:           cfg.Kinds,
		refreshInterval: cfg.RefreshInterval,
		logger:          cfg.Logger,
		ctx:             ctx,
		cancel:          cancel,
		refreshers:      refreshers,
		errorLs:         map[uint64]func(ErrorEvent){},
		finishLs:        map[string]map[uint64]ExecutionListener{},
		anyFinishLs:     map[uint64]ExecutionListener{},
		tracked:         map[string]struct{}{},
		recent:          poll.NewRecentResults(poll.DefaultRecentResults),
	}
	sup.OnAnyFinished(c.handleFinished)

	return c, nil
}

// Close stops every background fetch and execution tracking.
func (c *Coordinator) Close() {
	c.supervisor.DetachAll()
	c.cancel()
}

// Store returns the resource store the coordinator keeps in sync.
func (c *Coordinator) Store() *store.Store { return c.store }

// List returns the known resources of a kind.
func (c *Coordinator) List(kind model.ResourceKind) []model.TrackedResource {
	return c.store.List(kind)
}

// Get returns a known resource.
func (c *Coordinator) Get(kind model.ResourceKind, id string) (model.TrackedResource, error) {
	return c.store.Get(kind, id)
}

// RequestRefresh triggers a refresh of the collection without waiting for it. If a fetch
// is in flight one more is made when it finishes.
func (c *Coordinator) RequestRefresh(kind model.ResourceKind) {
	_, _ = c.request(kind)
}

// Refresh triggers a refresh of the collection and waits for a fetch started after
// the call to finish.
func (c *Coordinator) Refresh(ctx context.Context, kind model.ResourceKind) error {
	ch, err := c.request(kind)
	if err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAll refreshes every collection concurrently and returns the first error.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	var g errgroup.Group
	for _, k := range c.kinds {
		g.Go(func() error { return c.Refresh(ctx, k) })
	}
	return g.Wait()
}

func (c *Coordinator) request(kind model.ResourceKind) (<-chan error, error) {
	r, ok := c.refreshers[kind]
	if !ok {
		return nil, fmt.Errorf("kind %q is not synced: %w", kind, model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan error, 1)
	r.waiters = append(r.waiters, waiter{minSeq: r.started + 1, ch: ch})
	if r.running {
		r.pending = true
		return ch, nil
	}
	r.running = true
	go c.refreshLoop(kind, r)

	return ch, nil
}

func (c *Coordinator) refreshLoop(kind model.ResourceKind, r *refresher) {
	for {
		r.mu.Lock()
		r.started++
		seq := r.started
		r.pending = false
		r.mu.Unlock()

		err := c.fetch(kind)

		r.mu.Lock()
		waiting := r.waiters[:0]
		for _, w := range r.waiters {
			if w.minSeq <= seq {
				w.ch <- err
				continue
			}
			waiting = append(waiting, w)
		}
		r.waiters = waiting

		if !r.pending {
			r.running = false
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

func (c *Coordinator) fetch(kind model.ResourceKind) error {
	logger := c.logger.WithValues(log.Kv{"kind": kind})

	ticket := c.store.Ticket(kind)
	snap, err := c.transport.FetchCollection(c.ctx, kind)
	if err != nil {
		err = fmt.Errorf("could not fetch %s: %w", kind, err)
		c.reportError(ErrorEvent{Kind: kind, Op: "refresh", Err: err})
		return err
	}
	snap.Kind = kind

	c.store.Batch(func() {
		err = c.store.Replace(ticket, snap)
	})
	if err != nil {
		if errors.Is(err, model.ErrStaleResult) {
			logger.Debugf("Stale snapshot discarded: %s", err)
			return nil
		}
		return err
	}

	logger.Debugf("Collection refreshed with %d items", len(snap.Items))
	return nil
}

// PerformAction runs the action on the resource through the action gate. On success the
// collection is refreshed in the background.
func (c *Coordinator) PerformAction(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, params map[string]string) (model.ResourcePatch, error) {
	patch, err := c.gate.Invoke(ctx, kind, id, action, func(ctx context.Context) (model.ResourcePatch, error) {
		return c.transport.InvokeAction(ctx, kind, id, action, params)
	})
	if err != nil {
		return model.ResourcePatch{}, err
	}

	c.RequestRefresh(kind)
	return patch, nil
}

// RunExecution starts a script run and tracks it until it finishes. The listeners
// receive the finished event once.
func (c *Coordinator) RunExecution(ctx context.Context, resourceID string, onFinished ...ExecutionListener) (model.ExecutionHandle, error) {
	runID, err := c.transport.RunExecution(ctx, resourceID)
	if err != nil {
		return model.ExecutionHandle{}, fmt.Errorf("could not run %q: %w", resourceID, err)
	}

	logger := c.logger.WithValues(log.Kv{"run-id": runID, "resource-id": resourceID})

	c.mu.Lock()
	c.tracked[runID] = struct{}{}
	c.recent.Forget(runID)
	for _, l := range onFinished {
		c.addFinishListener(runID, l)
	}
	c.mu.Unlock()

	var h model.ExecutionHandle
	c.store.Batch(func() {
		patch := model.StatusPatch(model.ResourceStatusRunning)
		perr := c.store.Patch(model.KindScripts, c.store.Ticket(model.KindScripts), resourceID, patch)
		if perr != nil && !errors.Is(perr, model.ErrNotFound) {
			logger.Warningf("Could not set running flag: %s", perr)
		}

		h, err = c.supervisor.Track(c.ctx, runID, resourceID)
	})
	if err != nil {
		c.mu.Lock()
		delete(c.finishLs, runID)
		delete(c.tracked, runID)
		c.mu.Unlock()
		return model.ExecutionHandle{}, fmt.Errorf("could not track run %s: %w", runID, err)
	}

	logger.Infof("Execution started")
	return h, nil
}

// StopExecution asks the server to stop a run. The tracked execution finishes on its
// next check.
func (c *Coordinator) StopExecution(ctx context.Context, runID string) (model.ExecutionReport, error) {
	stopper, ok := c.transport.(transport.ExecutionStopper)
	if !ok {
		return model.ExecutionReport{}, fmt.Errorf("stopping executions is not supported: %w", model.ErrNotValid)
	}

	report, err := stopper.StopExecution(ctx, runID)
	if err != nil {
		return model.ExecutionReport{}, fmt.Errorf("could not stop run %s: %w", runID, err)
	}

	return report, nil
}

// Execution returns the state of a tracked execution.
func (c *Coordinator) Execution(runID string) (model.ExecutionHandle, error) {
	return c.supervisor.Handle(runID)
}

// Executions returns the tracked executions.
func (c *Coordinator) Executions() []model.ExecutionHandle {
	return c.supervisor.Handles()
}

// DetachExecution stops tracking an execution without changing its status.
func (c *Coordinator) DetachExecution(runID string) error {
	return c.supervisor.Detach(runID)
}

// ReattachExecution checks a detached execution again and resumes tracking it.
func (c *Coordinator) ReattachExecution(runID string) error {
	return c.supervisor.Reattach(c.ctx, runID)
}

// CreateAutomation creates an automation of a type and refreshes the automations.
func (c *Coordinator) CreateAutomation(ctx context.Context, automationType string) (model.TrackedResource, error) {
	creator, ok := c.transport.(transport.AutomationCreator)
	if !ok {
		return model.TrackedResource{}, fmt.Errorf("creating automations is not supported: %w", model.ErrNotValid)
	}

	res, err := creator.CreateAutomation(ctx, automationType)
	if err != nil {
		return model.TrackedResource{}, fmt.Errorf("could not create %q automation: %w", automationType, err)
	}

	c.RequestRefresh(model.KindAutomations)
	return res, nil
}

// ListAutomationTypes returns the automation types that can be created.
func (c *Coordinator) ListAutomationTypes(ctx context.Context) ([]model.AutomationType, error) {
	lister, ok := c.transport.(transport.AutomationTypeLister)
	if !ok {
		return nil, fmt.Errorf("listing automation types is not supported: %w", model.ErrNotValid)
	}
	return lister.ListAutomationTypes(ctx)
}

// ContainerLogs returns the last tail lines of a container logs.
func (c *Coordinator) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	reader, ok := c.transport.(transport.ContainerLogReader)
	if !ok {
		return "", fmt.Errorf("reading container logs is not supported: %w", model.ErrNotValid)
	}
	return reader.ContainerLogs(ctx, id, tail)
}

// DockerAvailable returns true if the containers backend is up.
func (c *Coordinator) DockerAvailable(ctx context.Context) (bool, error) {
	checker, ok := c.transport.(transport.DockerChecker)
	if !ok {
		return false, fmt.Errorf("checking docker is not supported: %w", model.ErrNotValid)
	}
	return checker.DockerAvailable(ctx)
}

// OnStoreChanged registers a listener for the changes of a collection.
func (c *Coordinator) OnStoreChanged(kind model.ResourceKind, l func([]model.TrackedResource)) (unsubscribe func()) {
	return c.store.Subscribe(func(ch store.Change) {
		if ch.Kind == kind {
			l(ch.Items)
		}
	})
}

// OnExecutionFinished registers a listener for the finished event of a tracked execution.
// If the execution already finished and its result is still kept, l is called right away.
func (c *Coordinator) OnExecutionFinished(runID string, l ExecutionListener) (unsubscribe func(), err error) {
	c.mu.Lock()
	if _, ok := c.tracked[runID]; !ok {
		res, finished := c.recent.Get(runID)
		c.mu.Unlock()
		if !finished {
			return nil, fmt.Errorf("execution %s: %w", runID, model.ErrNotFound)
		}
		l(res)
		return func() {}, nil
	}
	id := c.addFinishListener(runID, l)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.finishLs[runID], id)
	}, nil
}

// OnAnyExecutionFinished registers a listener for the finished event of every execution.
func (c *Coordinator) OnAnyExecutionFinished(l ExecutionListener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenerSeq++
	id := c.listenerSeq
	c.anyFinishLs[id] = l

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.anyFinishLs, id)
	}
}

// OnError registers a listener for background failures.
func (c *Coordinator) OnError(l func(ErrorEvent)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenerSeq++
	id := c.listenerSeq
	c.errorLs[id] = l

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.errorLs, id)
	}
}

// addFinishListener must be called with the lock held.
func (c *Coordinator) addFinishListener(runID string, l ExecutionListener) uint64 {
	c.listenerSeq++
	id := c.listenerSeq
	if c.finishLs[runID] == nil {
		c.finishLs[runID] = map[uint64]ExecutionListener{}
	}
	c.finishLs[runID][id] = l
	return id
}

func (c *Coordinator) handleFinished(res model.ExecutionResult) {
	logger := c.logger.WithValues(log.Kv{"run-id": res.RunID, "status": res.Status})

	if c.history != nil {
		err := c.history.SaveExecution(c.ctx, res)
		if err != nil {
			err = fmt.Errorf("could not save execution %s: %w", res.RunID, err)
			c.reportError(ErrorEvent{Kind: model.KindScripts, Op: "history", Err: err})
		}
	}

	if _, ok := c.refreshers[model.KindScripts]; ok {
		c.RequestRefresh(model.KindScripts)
	}

	c.mu.Lock()
	listeners := make([]ExecutionListener, 0, len(c.finishLs[res.RunID])+len(c.anyFinishLs))
	for _, l := range c.finishLs[res.RunID] {
		listeners = append(listeners, l)
	}
	delete(c.finishLs, res.RunID)
	delete(c.tracked, res.RunID)
	c.recent.Add(res)
	for _, l := range c.anyFinishLs {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	logger.Debugf("Execution finished")
	for _, l := range listeners {
		l(res)
	}
}

func (c *Coordinator) reportError(ev ErrorEvent) {
	c.logger.WithValues(log.Kv{"kind": ev.Kind, "op": ev.Op}).Warningf("%s", ev.Err)

	c.mu.Lock()
	listeners := make([]func(ErrorEvent), 0, len(c.errorLs))
	for _, l := range c.errorLs {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Run keeps the store in sync until ctx is done: it makes the initial refresh of every
// collection, refreshes on channel signals and, when configured, periodically.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.channel != nil {
		unsubscribe := c.channel.OnSignal(func(s events.Signal) {
			if _, ok := c.refreshers[s.Kind]; !ok {
				return
			}
			c.logger.WithValues(log.Kv{"kind": s.Kind, "topic": s.Topic}).Debugf("Refresh signal received")
			c.RequestRefresh(s.Kind)
		})
		defer unsubscribe()
	}

	g, ctx := errgroup.WithContext(ctx)

	// Failures are reported to the error listeners.
	g.Go(func() error {
		_ = c.RefreshAll(ctx)
		return nil
	})

	if c.channel != nil {
		g.Go(func() error { return c.channel.Run(ctx) })
	}

	if c.refreshInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(c.refreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					for _, k := range c.kinds {
						c.RequestRefresh(k)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	c.Close()
	return err
}
