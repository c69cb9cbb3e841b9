package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/store"
)

const (
	// DefaultInterval is the time between two checks of the same execution.
	DefaultInterval = time.Second
	// DefaultMaxAttempts is the number of non terminal checks before we stop watching.
	DefaultMaxAttempts = 60
)

// StatusFetcher gets the remote status of an execution.
type StatusFetcher interface {
	FetchExecutionStatus(ctx context.Context, runID string) (model.ExecutionReport, error)
}

// ResourcePatcher is the store view the supervisor needs to clear the running flag.
type ResourcePatcher interface {
	Ticket(kind model.ResourceKind) store.Ticket
	Patch(kind model.ResourceKind, ticket store.Ticket, id string, patch model.ResourcePatch) error
}

var _ ResourcePatcher = &store.Store{}

// ResultListener receives the finished event of an execution.
type ResultListener func(model.ExecutionResult)

// SupervisorConfig is the configuration for the poll supervisor.
type SupervisorConfig struct {
	Fetcher StatusFetcher
	Store   ResourcePatcher
	// Kind is the kind of the resources that own the executions.
	Kind        model.ResourceKind
	Interval    time.Duration
	MaxAttempts int
	Logger      log.Logger
}

func (c *SupervisorConfig) defaults() error {
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Kind == "" {
		c.Kind = model.KindScripts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "poll.Supervisor"})
	return nil
}

type entry struct {
	mu        sync.Mutex
	ctx       context.Context
	handle    model.ExecutionHandle
	gen       uint64
	detached  bool
	timer     *time.Timer
	finished  bool
	listeners map[uint64]ResultListener
}

// Supervisor runs a bounded poll loop per execution, until the execution reaches a terminal
// status or the attempt cap is reached.
type Supervisor struct {
	fetcher     StatusFetcher
	store       ResourcePatcher
	kind        model.ResourceKind
	interval    time.Duration
	maxAttempts int
	logger      log.Logger

	entries cmap.ConcurrentMap[string, *entry]

	mu          sync.Mutex
	listenerSeq uint64
	global      map[uint64]ResultListener
	recent      *RecentResults
}

// NewSupervisor returns a new poll supervisor.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Supervisor{
		fetcher:     cfg.Fetcher,
		store:       cfg.Store,
		kind:        cfg.Kind,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
		entries:     cmap.New[*entry](),
		global:      map[uint64]ResultListener{},
		recent:      NewRecentResults(DefaultRecentResults),
	}, nil
}

// Track starts watching an execution, the first check happens after one interval.
// Checks use ctx, once ctx is done the execution is detached.
func (s *Supervisor) Track(ctx context.Context, runID, resourceID string) (model.ExecutionHandle, error) {
	if runID == "" {
		return model.ExecutionHandle{}, fmt.Errorf("run id is required: %w", model.ErrNotValid)
	}

	e := &entry{
		ctx: ctx,
		handle: model.ExecutionHandle{
			RunID:      runID,
			ResourceID: resourceID,
			Status:     model.ExecutionStatusPending,
			StartedAt:  time.Now(),
		},
		listeners: map[uint64]ResultListener{},
	}
	if !s.entries.SetIfAbsent(runID, e) {
		return model.ExecutionHandle{}, fmt.Errorf("execution %s: %w", runID, model.ErrAlreadyExists)
	}
	s.mu.Lock()
	s.recent.Forget(runID)
	s.mu.Unlock()

	e.mu.Lock()
	s.schedule(e)
	h := e.handle
	e.mu.Unlock()

	s.logger.WithValues(log.Kv{"run-id": runID, "resource-id": resourceID}).Debugf("Tracking execution")
	return h, nil
}

// Handle returns the current state of a tracked execution.
func (s *Supervisor) Handle(runID string) (model.ExecutionHandle, error) {
	e, ok := s.entries.Get(runID)
	if !ok {
		return model.ExecutionHandle{}, fmt.Errorf("execution %s: %w", runID, model.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle, nil
}

// Handles returns all the tracked executions.
func (s *Supervisor) Handles() []model.ExecutionHandle {
	hs := []model.ExecutionHandle{}
	for _, e := range s.entries.Items() {
		e.mu.Lock()
		hs = append(hs, e.handle)
		e.mu.Unlock()
	}
	return hs
}

// OnFinished registers a listener for the finished event of one execution. If the
// execution already finished and its result is still kept, l is called right away.
func (s *Supervisor) OnFinished(runID string, l ResultListener) (unsubscribe func(), err error) {
	s.mu.Lock()
	e, ok := s.entries.Get(runID)
	if !ok {
		res, finished := s.recent.Get(runID)
		s.mu.Unlock()
		if !finished {
			return nil, fmt.Errorf("execution %s: %w", runID, model.ErrNotFound)
		}
		l(res)
		return func() {}, nil
	}

	s.listenerSeq++
	id := s.listenerSeq
	e.mu.Lock()
	e.listeners[id] = l
	e.mu.Unlock()
	s.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}, nil
}

// OnAnyFinished registers a listener for the finished event of every execution.
func (s *Supervisor) OnAnyFinished(l ResultListener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listenerSeq++
	id := s.listenerSeq
	s.global[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.global, id)
	}
}

// Detach stops scheduling checks for the execution without changing its status.
// A check already in flight completes but is not rescheduled.
func (s *Supervisor) Detach(runID string) error {
	e, ok := s.entries.Get(runID)
	if !ok {
		return fmt.Errorf("execution %s: %w", runID, model.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.detached = true
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
	}
	return nil
}

// Reattach checks a detached execution right away and resumes polling with the
// attempt count restarted.
func (s *Supervisor) Reattach(ctx context.Context, runID string) error {
	e, ok := s.entries.Get(runID)
	if !ok {
		return fmt.Errorf("execution %s: %w", runID, model.ErrNotFound)
	}

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.ctx = ctx
	e.detached = false
	e.gen++
	e.handle.AttemptsMade = 0
	gen := e.gen
	e.mu.Unlock()

	go s.check(e, gen)
	return nil
}

// DetachAll detaches every tracked execution.
func (s *Supervisor) DetachAll() {
	for _, runID := range s.entries.Keys() {
		_ = s.Detach(runID)
	}
}

// schedule must be called with the entry lock held.
func (s *Supervisor) schedule(e *entry) {
	gen := e.gen
	e.timer = time.AfterFunc(s.interval, func() { s.check(e, gen) })
}

func (s *Supervisor) check(e *entry, gen uint64) {
	e.mu.Lock()
	if e.gen != gen || e.detached || e.finished {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	runID := e.handle.RunID
	e.mu.Unlock()

	logger := s.logger.WithValues(log.Kv{"run-id": runID})

	if ctx.Err() != nil {
		logger.Debugf("Context done, detaching execution")
		_ = s.Detach(runID)
		return
	}

	report, err := s.fetcher.FetchExecutionStatus(ctx, runID)
	if err == nil && report.Status.IsTerminal() {
		s.finish(e, report)
		return
	}

	e.mu.Lock()
	// Reattached or detached while checking.
	if e.gen != gen || e.detached || e.finished {
		e.mu.Unlock()
		return
	}
	e.handle.AttemptsMade++
	if err != nil {
		logger.Warningf("Could not check execution (attempt %d): %s", e.handle.AttemptsMade, err)
	} else {
		e.handle.Status = report.Status
	}

	if e.handle.AttemptsMade >= s.maxAttempts {
		attempts := e.handle.AttemptsMade
		e.mu.Unlock()
		logger.Infof("Execution not finished after %d checks, stopped watching", attempts)
		s.finish(e, model.ExecutionReport{
			RunID:  runID,
			Status: model.ExecutionStatusTimedOut,
			Error:  fmt.Sprintf("still running after %d checks, stopped watching: %s", attempts, model.ErrTimedOut),
		})
		return
	}
	s.schedule(e)
	e.mu.Unlock()
}

// finish delivers the result and removes the entry. Only the first call for an
// entry has effects.
func (s *Supervisor) finish(e *entry, report model.ExecutionReport) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.handle.Status = report.Status
	res := model.ExecutionResult{
		RunID:      e.handle.RunID,
		ResourceID: e.handle.ResourceID,
		Status:     report.Status,
		Output:     report.Output,
		Error:      report.Error,
		ReturnCode: report.ReturnCode,
		StartedAt:  e.handle.StartedAt,
		FinishedAt: time.Now(),
	}
	e.mu.Unlock()

	logger := s.logger.WithValues(log.Kv{"run-id": res.RunID, "resource-id": res.ResourceID, "status": res.Status})
	if res.ResourceID != "" {
		err := s.store.Patch(s.kind, s.store.Ticket(s.kind), res.ResourceID, finishedPatch(res.Status))
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Warningf("Could not clear running flag: %s", err)
		}
	}
	logger.Debugf("Execution finished")

	// Registrations see either the entry or the kept result.
	s.mu.Lock()
	s.entries.RemoveCb(res.RunID, func(_ string, v *entry, exists bool) bool {
		return exists && v == e
	})
	s.recent.Add(res)
	e.mu.Lock()
	listeners := make([]ResultListener, 0, len(e.listeners)+len(s.global))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.listeners = map[uint64]ResultListener{}
	e.mu.Unlock()
	for _, l := range s.global {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(res)
	}
}

func finishedPatch(st model.ExecutionStatus) model.ResourcePatch {
	var rst model.ResourceStatus
	switch st {
	case model.ExecutionStatusCompleted:
		rst = model.ResourceStatusCompleted
	case model.ExecutionStatusFailed:
		rst = model.ResourceStatusFailed
	case model.ExecutionStatusError:
		rst = model.ResourceStatusError
	case model.ExecutionStatusStopped:
		rst = model.ResourceStatusIdle
	default:
		rst = model.ResourceStatusUnknown
	}
	return model.StatusPatch(rst)
}
