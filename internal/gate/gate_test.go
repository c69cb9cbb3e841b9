package gate_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/rctl/internal/gate"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/store"
)

func newStoreWith(t *testing.T, items ...model.TrackedResource) *store.Store {
	s, err := store.NewStore(store.StoreConfig{})
	require.NoError(t, err)
	err = s.Replace(s.Ticket(model.KindContainers), model.Snapshot{Kind: model.KindContainers, Items: items})
	require.NoError(t, err)
	return s
}

func container(id string, st model.ResourceStatus) model.TrackedResource {
	return model.TrackedResource{ID: id, Status: st, Running: st == model.ResourceStatusRunning}
}

func TestGateInvoke(t *testing.T) {
	tests := map[string]struct {
		id        string
		action    model.ActionKind
		reqErr    error
		expErr    error
		expCalls  int
		expStatus model.ResourceStatus
		expGone   bool
	}{
		"A successful start should apply the confirmed status.": {
			id:        "c1",
			action:    model.ActionStart,
			expCalls:  1,
			expStatus: model.ResourceStatusRunning,
		},
		"A rejected start should revert the optimistic status and return the error.": {
			id:        "c1",
			action:    model.ActionStart,
			reqErr:    &model.RemoteRejectedError{StatusCode: 409, Message: "already started"},
			expErr:    model.ErrRemoteRejected,
			expCalls:  1,
			expStatus: model.ResourceStatusIdle,
		},
		"A transport error should revert the optimistic status and return the error.": {
			id:        "c1",
			action:    model.ActionStop,
			reqErr:    fmt.Errorf("boom: %w", model.ErrTransport),
			expErr:    model.ErrTransport,
			expCalls:  1,
			expStatus: model.ResourceStatusIdle,
		},
		"A successful delete should remove the resource.": {
			id:       "c1",
			action:   model.ActionDelete,
			expCalls: 1,
			expGone:  true,
		},
		"An action on an unknown resource should not call the remote.": {
			id:        "missing",
			action:    model.ActionStart,
			expErr:    model.ErrNotFound,
			expStatus: model.ResourceStatusIdle,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			s := newStoreWith(t, container("c1", model.ResourceStatusIdle))
			g, err := gate.NewGate(gate.GateConfig{Store: s})
			require.NoError(err)

			calls := 0
			_, err = g.Invoke(context.TODO(), model.KindContainers, test.id, test.action, func(ctx context.Context) (model.ResourcePatch, error) {
				calls++
				if test.reqErr != nil {
					return model.ResourcePatch{}, test.reqErr
				}
				return model.StatusPatch(model.ResourceStatusRunning), nil
			})
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else {
				assert.NoError(err)
			}
			assert.Equal(test.expCalls, calls)

			got, err := s.Get(model.KindContainers, "c1")
			if test.expGone {
				assert.ErrorIs(err, model.ErrNotFound)
				return
			}
			require.NoError(err)
			assert.Equal(test.expStatus, got.Status)
			assert.Nil(got.PendingAction)
		})
	}
}

func TestGateConcurrentInvokeShouldCallRemoteOnce(t *testing.T) {
	require := require.New(t)

	s := newStoreWith(t, container("c1", model.ResourceStatusIdle))
	g, err := gate.NewGate(gate.GateConfig{Store: s})
	require.NoError(err)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (model.ResourcePatch, error) {
		calls.Add(1)
		<-release
		return model.StatusPatch(model.ResourceStatusRunning), nil
	}

	const n = 2
	errs := make(chan error, n)
	var started sync.WaitGroup
	started.Add(n)
	for range n {
		go func() {
			started.Done()
			_, err := g.Invoke(context.TODO(), model.KindContainers, "c1", model.ActionStart, fn)
			errs <- err
		}()
	}
	started.Wait()

	// One of them must be rejected without calling the remote.
	err = <-errs
	require.ErrorIs(err, model.ErrAlreadyInFlight)
	close(release)
	require.NoError(<-errs)
	require.EqualValues(1, calls.Load())
}

func TestGateToggleWhileOutstandingShouldKeepFirstResult(t *testing.T) {
	require := require.New(t)

	s := newStoreWith(t, container("c1", model.ResourceStatusIdle))
	g, err := gate.NewGate(gate.GateConfig{Store: s})
	require.NoError(err)

	inFlight := make(chan struct{})
	release := make(chan struct{})
	startDone := make(chan error, 1)
	go func() {
		_, err := g.Invoke(context.TODO(), model.KindContainers, "c1", model.ActionStart, func(ctx context.Context) (model.ResourcePatch, error) {
			close(inFlight)
			<-release
			return model.StatusPatch(model.ResourceStatusRunning), nil
		})
		startDone <- err
	}()
	<-inFlight

	got, err := s.Get(model.KindContainers, "c1")
	require.NoError(err)
	require.Equal(model.ResourceStatusStarting, got.Status)

	stopCalls := 0
	_, err = g.Invoke(context.TODO(), model.KindContainers, "c1", model.ActionStop, func(ctx context.Context) (model.ResourcePatch, error) {
		stopCalls++
		return model.StatusPatch(model.ResourceStatusIdle), nil
	})
	require.ErrorIs(err, model.ErrAlreadyInFlight)
	require.Zero(stopCalls)

	// A refresh lands before the start is confirmed.
	require.NoError(s.Replace(s.Ticket(model.KindContainers), model.Snapshot{Kind: model.KindContainers, Items: []model.TrackedResource{container("c1", model.ResourceStatusIdle)}}))

	close(release)
	require.NoError(<-startDone)

	got, err = s.Get(model.KindContainers, "c1")
	require.NoError(err)
	require.Equal(model.ResourceStatusRunning, got.Status)
	require.True(got.Running)
	require.Nil(got.PendingAction)
}
