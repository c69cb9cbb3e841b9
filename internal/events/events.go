package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

const (
	// DefaultBaseBackoff is the wait before the first reconnect.
	DefaultBaseBackoff = time.Second
	// DefaultMaxBackoff is the maximum wait between reconnects.
	DefaultMaxBackoff = 30 * time.Second
)

// DefaultTopics returns the default topic prefix to resource kind mapping.
func DefaultTopics() map[string]model.ResourceKind {
	return map[string]model.ResourceKind{
		"rctl/automations": model.KindAutomations,
		"rctl/scripts":     model.KindScripts,
		"rctl/containers":  model.KindContainers,
		"status_update":    model.KindAutomations,
	}
}

// State is the connection state of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Notification is a raw message received from the remote.
type Notification struct {
	Topic   string
	Payload []byte
}

// Signal tells that a resource collection changed remotely and should be refreshed.
// The payload is never trusted as state.
type Signal struct {
	Kind  model.ResourceKind
	Topic string
}

// StateChange is sent every time the channel state changes.
type StateChange struct {
	State State
	// Attempts is the number of consecutive failed connection attempts.
	Attempts int
	Err      error
}

// Conn is an established connection.
type Conn interface {
	// Closed is closed when the connection is lost.
	Closed() <-chan struct{}
	Close() error
}

// Dialer knows how to connect to a push notification source.
type Dialer interface {
	Dial(ctx context.Context, handler func(Notification)) (Conn, error)
}

// ChannelConfig is the configuration for the event channel.
type ChannelConfig struct {
	Dialer Dialer
	// Topics maps topic prefixes to the resource kind they signal.
	Topics      map[string]model.ResourceKind
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      log.Logger
}

func (c *ChannelConfig) defaults() error {
	if c.Dialer == nil {
		return fmt.Errorf("dialer is required")
	}
	if len(c.Topics) == 0 {
		c.Topics = DefaultTopics()
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("max backoff can't be lower than base backoff")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "events.Channel"})
	return nil
}

type topicPrefix struct {
	prefix string
	kind   model.ResourceKind
}

// Channel keeps a push connection alive, reconnecting with exponential backoff, and
// turns received notifications into refresh signals.
type Channel struct {
	dialer      Dialer
	topics      []topicPrefix
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      log.Logger

	mu          sync.Mutex
	state       State
	attempts    int
	cancel      context.CancelFunc
	done        chan struct{}
	dispatching bool
	listenerSeq uint64
	signalLs    map[uint64]func(Signal)
	stateLs     map[uint64]func(StateChange)
}

// NewChannel returns a new disconnected event channel.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	topics := make([]topicPrefix, 0, len(cfg.Topics))
	for p, k := range cfg.Topics {
		topics = append(topics, topicPrefix{prefix: p, kind: k})
	}
	// Longest prefix first.
	sort.Slice(topics, func(i, j int) bool {
		if len(topics[i].prefix) != len(topics[j].prefix) {
			return len(topics[i].prefix) > len(topics[j].prefix)
		}
		return topics[i].prefix < topics[j].prefix
	})

	return &Channel{
		dialer:      cfg.Dialer,
		topics:      topics,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		logger:      cfg.Logger,
		signalLs:    map[uint64]func(Signal){},
		stateLs:     map[uint64]func(StateChange){},
	}, nil
}

// KindForTopic returns the resource kind signaled by a topic.
func (c *Channel) KindForTopic(topic string) (model.ResourceKind, bool) {
	for _, t := range c.topics {
		if strings.HasPrefix(topic, t.prefix) {
			return t.kind, true
		}
	}
	return "", false
}

// State returns the current state and the consecutive failed attempts.
func (c *Channel) State() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempts
}

// OnSignal registers a refresh signal listener.
func (c *Channel) OnSignal(l func(Signal)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenerSeq++
	id := c.listenerSeq
	c.signalLs[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.signalLs, id)
	}
}

// OnStateChange registers a state change listener.
func (c *Channel) OnStateChange(l func(StateChange)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenerSeq++
	id := c.listenerSeq
	c.stateLs[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateLs, id)
	}
}

// Connect starts the connection loop in the background. Calling it while the loop
// is running does nothing.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

// Disconnect stops the connection loop and closes the connection. It is safe to call
// from any state and more than once. Called from a state change listener, it returns
// without waiting for the loop to stop.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	fromLoop := c.dispatching
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if fromLoop {
		return
	}
	<-done
}

// Run connects and blocks until the context is done, then disconnects.
func (c *Channel) Run(ctx context.Context) error {
	c.Connect(ctx)
	<-ctx.Done()
	c.Disconnect()
	return nil
}

func (c *Channel) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateDisconnected, nil, false)

	for {
		c.setState(StateConnecting, nil, false)
		conn, err := c.dialer.Dial(ctx, c.handle)
		if err == nil {
			c.setState(StateConnected, nil, true)
			c.logger.Infof("Push channel connected")

			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-conn.Closed():
				err = fmt.Errorf("connection lost: %w", model.ErrTransport)
			}
			_ = conn.Close()
		}

		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.attempts++
		attempts := c.attempts
		c.mu.Unlock()

		backoff := calculateBackoff(attempts-1, c.baseBackoff, c.maxBackoff)
		c.logger.Warningf("Push channel disconnected (attempt %d), reconnecting in %s: %s", attempts, backoff, err)
		c.setState(StateDisconnected, err, false)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Channel) setState(st State, err error, resetAttempts bool) {
	c.mu.Lock()
	if resetAttempts {
		c.attempts = 0
	}
	if c.state == st && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = st
	change := StateChange{State: st, Attempts: c.attempts, Err: err}
	ls := make([]func(StateChange), 0, len(c.stateLs))
	for _, l := range c.stateLs {
		ls = append(ls, l)
	}
	c.dispatching = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.dispatching = false
		c.mu.Unlock()
	}()
	for _, l := range ls {
		l(change)
	}
}

func (c *Channel) handle(n Notification) {
	kind, ok := c.KindForTopic(n.Topic)
	if !ok {
		c.logger.Debugf("Ignoring notification on unknown topic %q", n.Topic)
		return
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		c.logger.Debugf("Ignoring notification on %q, channel is %s", n.Topic, c.state)
		return
	}
	ls := make([]func(Signal), 0, len(c.signalLs))
	for _, l := range c.signalLs {
		ls = append(ls, l)
	}
	c.mu.Unlock()

	s := Signal{Kind: kind, Topic: n.Topic}
	for _, l := range ls {
		l(s)
	}
}

// calculateBackoff returns the wait after the given number of consecutive failures,
// doubling from base and capped at max.
func calculateBackoff(failures int, base, max time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	if failures > 30 {
		return max
	}
	d := base << failures
	if d <= 0 || d > max {
		return max
	}
	return d
}
