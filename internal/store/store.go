package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Ticket is a per-collection request sequence number. It is taken when a request is
// issued and used to decide if the request result is still newer than what we have.
type Ticket uint64

// Change is the notification sent to subscribers after a collection mutates.
type Change struct {
	Kind  model.ResourceKind
	Items []model.TrackedResource
}

// Listener receives store changes. Listeners are called outside the store lock and
// receive copies, they are free to call the store back.
type Listener func(Change)

// StoreConfig is the configuration for the resource store.
type StoreConfig struct {
	Logger log.Logger
}

func (c *StoreConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "store.Store"})
	return nil
}

type entry struct {
	res        model.TrackedResource
	observedAt Ticket
	// optimistic holds the status we replaced when an optimistic one was set.
	optimistic *optimisticState
}

type optimisticState struct {
	status  model.ResourceStatus
	running bool
}

type collection struct {
	seq     Ticket
	applied Ticket
	order   []string
	entries map[string]*entry
}

// Store is the single source of truth of the resources the client believes exist.
// There is one ordered collection per resource kind.
type Store struct {
	mu          sync.Mutex
	collections map[model.ResourceKind]*collection
	listeners   map[uint64]Listener
	listenerSeq uint64
	batchDepth  int
	dirty       map[model.ResourceKind]struct{}
	logger      log.Logger
}

// NewStore returns a new empty store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Store{
		collections: map[model.ResourceKind]*collection{},
		listeners:   map[uint64]Listener{},
		dirty:       map[model.ResourceKind]struct{}{},
		logger:      cfg.Logger,
	}, nil
}

func (s *Store) collection(kind model.ResourceKind) *collection {
	c, ok := s.collections[kind]
	if !ok {
		c = &collection{entries: map[string]*entry{}}
		s.collections[kind] = c
	}
	return c
}

// Ticket returns a new request sequence number for the kind collection.
func (s *Store) Ticket(kind model.ResourceKind) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(kind)
	c.seq++
	return c.seq
}

// Replace merges a freshly fetched snapshot into the collection.
//
// Surviving entries keep their pending action and get every other field from the
// snapshot. Entries only in the old set are removed unless they have a pending action
// or were observed by a request newer than ticket. New entries are appended in server order.
// A ticket older than the last applied replace returns ErrStaleResult without changes.
func (s *Store) Replace(ticket Ticket, snap model.Snapshot) error {
	notify, err := s.mutate(snap.Kind, func(c *collection) error {
		if ticket <= c.applied {
			return fmt.Errorf("replace %s with ticket %d, already applied %d: %w", snap.Kind, ticket, c.applied, model.ErrStaleResult)
		}
		c.applied = ticket

		now := time.Now()
		seen := make(map[string]struct{}, len(snap.Items))
		order := make([]string, 0, len(snap.Items))
		for _, item := range snap.Items {
			if _, ok := seen[item.ID]; ok {
				s.logger.Warningf("Duplicated id %q on %s snapshot, ignoring", item.ID, snap.Kind)
				continue
			}
			seen[item.ID] = struct{}{}
			order = append(order, item.ID)

			e, ok := c.entries[item.ID]
			if ok && e.observedAt > ticket {
				continue
			}

			res := item.Clone()
			res.Kind = snap.Kind
			res.LastSyncedAt = now
			if ok {
				res.PendingAction = e.res.PendingAction
				e.res = res
				e.observedAt = ticket
				e.optimistic = nil
				continue
			}
			res.PendingAction = nil
			c.entries[item.ID] = &entry{res: res, observedAt: ticket}
		}

		for _, id := range c.order {
			if _, ok := seen[id]; ok {
				continue
			}
			e := c.entries[id]
			if e.res.PendingAction != nil || e.observedAt > ticket {
				order = append(order, id)
				continue
			}
			delete(c.entries, id)
		}
		c.order = order

		return nil
	})
	if err != nil {
		return err
	}
	s.flush(notify)
	return nil
}

// Patch applies a targeted update to a single resource. If the resource was already
// observed by a newer request the patch is discarded with ErrStaleResult.
func (s *Store) Patch(kind model.ResourceKind, ticket Ticket, id string, patch model.ResourcePatch) error {
	notify, err := s.mutate(kind, func(c *collection) error {
		e, ok := c.entries[id]
		if !ok {
			return fmt.Errorf("resource %s/%s: %w", kind, id, model.ErrNotFound)
		}
		if e.observedAt > ticket {
			return fmt.Errorf("patch %s/%s with ticket %d, observed %d: %w", kind, id, ticket, e.observedAt, model.ErrStaleResult)
		}
		s.applyPatch(c, e, ticket, patch)
		return nil
	})
	if err != nil {
		return err
	}
	s.flush(notify)
	return nil
}

func (s *Store) applyPatch(c *collection, e *entry, ticket Ticket, patch model.ResourcePatch) {
	if patch.Removed {
		c.remove(e.res.ID)
		return
	}
	patch.Apply(&e.res)
	e.res.LastSyncedAt = time.Now()
	e.observedAt = ticket
	e.optimistic = nil
}

func (c *collection) remove(id string) {
	delete(c.entries, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// BeginAction sets the pending action of a resource if none is set, and applies the
// optimistic status of the action. The returned ticket must be used to end the action.
func (s *Store) BeginAction(kind model.ResourceKind, id string, action model.PendingAction) (Ticket, error) {
	var ticket Ticket
	notify, err := s.mutate(kind, func(c *collection) error {
		e, ok := c.entries[id]
		if !ok {
			return fmt.Errorf("resource %s/%s: %w", kind, id, model.ErrNotFound)
		}
		if e.res.PendingAction != nil {
			return fmt.Errorf("%s on %s/%s, %s pending: %w", action.Action, kind, id, e.res.PendingAction.Action, model.ErrAlreadyInFlight)
		}

		c.seq++
		ticket = c.seq
		pa := action
		e.res.PendingAction = &pa
		e.observedAt = ticket
		if st, ok := action.Action.OptimisticStatus(); ok {
			e.optimistic = &optimisticState{status: e.res.Status, running: e.res.Running}
			e.res.Status = st
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.flush(notify)
	return ticket, nil
}

// EndAction resolves the action started with BeginAction.
//
// The pending action is cleared only if it is still owned by token. A confirmed patch
// from the owner is applied as the latest observation of the resource. A nil confirmed
// patch means the action failed and the optimistic status is reverted, as long as
// nothing newer than ticket has been observed for the resource.
func (s *Store) EndAction(kind model.ResourceKind, id, token string, ticket Ticket, confirmed *model.ResourcePatch) {
	notify, _ := s.mutate(kind, func(c *collection) error {
		e, ok := c.entries[id]
		if !ok {
			return nil
		}
		owner := e.res.PendingAction != nil && e.res.PendingAction.Token == token
		if owner {
			e.res.PendingAction = nil
		}

		// The confirmation is the newest response for the resource, whatever was
		// requested while the action was outstanding.
		if owner && confirmed != nil {
			c.seq++
			s.applyPatch(c, e, c.seq, *confirmed)
			return nil
		}
		if e.observedAt > ticket {
			return nil
		}
		if confirmed != nil {
			s.applyPatch(c, e, ticket, *confirmed)
			return nil
		}
		if owner && e.optimistic != nil {
			e.res.Status = e.optimistic.status
			e.res.Running = e.optimistic.running
			e.optimistic = nil
		}
		return nil
	})
	s.flush(notify)
}

// Get returns a copy of a resource.
func (s *Store) Get(kind model.ResourceKind, id string) (model.TrackedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collection(kind).entries[id]
	if !ok {
		return model.TrackedResource{}, fmt.Errorf("resource %s/%s: %w", kind, id, model.ErrNotFound)
	}
	return e.res.Clone(), nil
}

// List returns a copy of the kind collection in order.
func (s *Store) List(kind model.ResourceKind) []model.TrackedResource {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collection(kind).items()
}

func (c *collection) items() []model.TrackedResource {
	items := make([]model.TrackedResource, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, c.entries[id].res.Clone())
	}
	return items
}

// Subscribe registers a listener, the returned func unsubscribes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listenerSeq++
	id := s.listenerSeq
	s.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

// Batch runs fn and coalesces every mutation made meanwhile into a single
// notification per changed collection, sent when fn returns.
func (s *Store) Batch(fn func()) {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.batchDepth--
		var changes []Change
		var listeners []Listener
		if s.batchDepth == 0 {
			changes, listeners = s.pendingChanges()
		}
		s.mu.Unlock()
		notifyAll(changes, listeners)
	}()

	fn()
}

type notification struct {
	changes   []Change
	listeners []Listener
}

// mutate runs fn with the lock held and, when fn succeeds, returns the notification
// to send after releasing the lock.
func (s *Store) mutate(kind model.ResourceKind, fn func(c *collection) error) (notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.collection(kind)); err != nil {
		return notification{}, err
	}

	s.dirty[kind] = struct{}{}
	if s.batchDepth > 0 {
		return notification{}, nil
	}
	changes, listeners := s.pendingChanges()
	return notification{changes: changes, listeners: listeners}, nil
}

func (s *Store) pendingChanges() ([]Change, []Listener) {
	if len(s.dirty) == 0 {
		return nil, nil
	}

	changes := make([]Change, 0, len(s.dirty))
	for _, kind := range model.AllKinds() {
		if _, ok := s.dirty[kind]; ok {
			changes = append(changes, Change{Kind: kind, Items: s.collection(kind).items()})
			delete(s.dirty, kind)
		}
	}
	// Kinds outside the known set.
	for kind := range s.dirty {
		changes = append(changes, Change{Kind: kind, Items: s.collection(kind).items()})
		delete(s.dirty, kind)
	}

	listeners := make([]Listener, 0, len(s.listeners))
	for id := uint64(1); id <= s.listenerSeq; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	return changes, listeners
}

func (s *Store) flush(n notification) {
	notifyAll(n.changes, n.listeners)
}

func notifyAll(changes []Change, listeners []Listener) {
	for _, ch := range changes {
		for _, l := range listeners {
			l(Change{Kind: ch.Kind, Items: cloneItems(ch.Items)})
		}
	}
}

func cloneItems(items []model.TrackedResource) []model.TrackedResource {
	c := make([]model.TrackedResource, 0, len(items))
	for _, it := range items {
		c = append(c, it.Clone())
	}
	return c
}
