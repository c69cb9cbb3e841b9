package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/rctl/internal/events"
	"github.com/slok/rctl/internal/model"
)

type fakeConn struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (c *fakeConn) Closed() <-chan struct{} { return c.closed }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer fails the first `fails` dials.
type fakeDialer struct {
	mu      sync.Mutex
	fails   int
	dials   int
	conns   []*fakeConn
	handler func(events.Notification)
}

func (d *fakeDialer) Dial(ctx context.Context, handler func(events.Notification)) (events.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.fails {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.handler = handler
	return c, nil
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) send(topic string) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h(events.Notification{Topic: topic, Payload: []byte(`{"status":"running"}`)})
}

func connected(ch *events.Channel) func() bool {
	return func() bool {
		st, _ := ch.State()
		return st == events.StateConnected
	}
}

func TestChannelKindForTopic(t *testing.T) {
	tests := map[string]struct {
		topics  map[string]model.ResourceKind
		topic   string
		expKind model.ResourceKind
		expOK   bool
	}{
		"Default automation topic should map to automations.": {
			topic:   "rctl/automations/a1/status",
			expKind: model.KindAutomations,
			expOK:   true,
		},
		"Socket status update event should map to automations.": {
			topic:   "status_update",
			expKind: model.KindAutomations,
			expOK:   true,
		},
		"Unknown topics should not map.": {
			topic: "other/thing",
		},
		"The longest prefix should win.": {
			topics: map[string]model.ResourceKind{
				"home":         model.KindAutomations,
				"home/docker/": model.KindContainers,
			},
			topic:   "home/docker/c1",
			expKind: model.KindContainers,
			expOK:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ch, err := events.NewChannel(events.ChannelConfig{Dialer: &fakeDialer{}, Topics: test.topics})
			require.NoError(t, err)

			kind, ok := ch.KindForTopic(test.topic)
			assert.Equal(t, test.expOK, ok)
			assert.Equal(t, test.expKind, kind)
		})
	}
}

func TestChannelReconnectsWithBackoff(t *testing.T) {
	require := require.New(t)

	d := &fakeDialer{fails: 2}
	ch, err := events.NewChannel(events.ChannelConfig{
		Dialer:      d,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
	})
	require.NoError(err)

	var mu sync.Mutex
	var changes []events.StateChange
	ch.OnStateChange(func(c events.StateChange) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	signals := make(chan events.Signal, 10)
	ch.OnSignal(func(s events.Signal) { signals <- s })

	ch.Connect(context.TODO())
	ch.Connect(context.TODO())
	require.Eventually(connected(ch), time.Second, time.Millisecond)
	require.Equal(3, d.Dials())
	_, attempts := ch.State()
	require.Zero(attempts)

	mu.Lock()
	var failed int
	for _, c := range changes {
		if c.Err != nil {
			failed++
		}
	}
	mu.Unlock()
	require.Equal(2, failed)

	// Notifications are signals.
	d.send("rctl/containers/c1")
	d.send("unknown")
	select {
	case s := <-signals:
		require.Equal(model.KindContainers, s.Kind)
	case <-time.After(time.Second):
		t.Fatal("no signal received")
	}
	require.Empty(signals)

	// A lost connection reconnects.
	_ = d.lastConn().Close()
	require.Eventually(func() bool { return d.Dials() == 4 }, time.Second, time.Millisecond)
	require.Eventually(connected(ch), time.Second, time.Millisecond)

	ch.Disconnect()
	ch.Disconnect()
	st, _ := ch.State()
	require.Equal(events.StateDisconnected, st)
	select {
	case <-d.lastConn().Closed():
	default:
		t.Fatal("connection should be closed")
	}
}

func TestChannelDisconnectWhileConnectingShouldStop(t *testing.T) {
	require := require.New(t)

	d := &fakeDialer{fails: 1000}
	ch, err := events.NewChannel(events.ChannelConfig{Dialer: d, BaseBackoff: time.Hour, MaxBackoff: time.Hour})
	require.NoError(err)

	// Disconnecting a never connected channel is fine.
	ch.Disconnect()

	ch.Connect(context.TODO())
	require.Eventually(func() bool { return d.Dials() == 1 }, time.Second, time.Millisecond)
	ch.Disconnect()

	st, attempts := ch.State()
	require.Equal(events.StateDisconnected, st)
	require.Equal(1, attempts)
	require.Equal(1, d.Dials())
}

func TestChannelRunStopsOnContextDone(t *testing.T) {
	require := require.New(t)

	d := &fakeDialer{}
	ch, err := events.NewChannel(events.ChannelConfig{Dialer: d})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error)
	go func() { errC <- ch.Run(ctx) }()

	require.Eventually(connected(ch), time.Second, time.Millisecond)
	cancel()
	require.NoError(<-errC)
	st, _ := ch.State()
	require.Equal(events.StateDisconnected, st)
}

func TestChannelDisconnectFromStateListener(t *testing.T) {
	require := require.New(t)

	d := &fakeDialer{fails: 1000}
	ch, err := events.NewChannel(events.ChannelConfig{Dialer: d, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	require.NoError(err)

	gaveUp := make(chan struct{})
	var once sync.Once
	ch.OnStateChange(func(c events.StateChange) {
		if c.Err == nil {
			return
		}
		once.Do(func() {
			ch.Disconnect()
			close(gaveUp)
		})
	})

	ch.Connect(context.TODO())
	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect from a state listener did not return")
	}

	require.Eventually(func() bool {
		st, _ := ch.State()
		return st == events.StateDisconnected
	}, time.Second, time.Millisecond)
	dials := d.Dials()
	time.Sleep(20 * time.Millisecond)
	require.Equal(dials, d.Dials())

	// Still idempotent afterwards.
	ch.Disconnect()
}

func TestChannelIgnoresNotificationsWhenNotConnected(t *testing.T) {
	require := require.New(t)

	d := &fakeDialer{}
	ch, err := events.NewChannel(events.ChannelConfig{Dialer: d, BaseBackoff: time.Hour, MaxBackoff: time.Hour})
	require.NoError(err)

	signals := make(chan events.Signal, 10)
	ch.OnSignal(func(s events.Signal) { signals <- s })

	ch.Connect(context.TODO())
	require.Eventually(connected(ch), time.Second, time.Millisecond)
	d.send("rctl/automations/a1")
	require.Len(signals, 1)

	ch.Disconnect()
	d.send("rctl/automations/a1")
	require.Len(signals, 1)
}
