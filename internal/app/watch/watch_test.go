package watch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/rctl/internal/app/watch"
	"github.com/slok/rctl/internal/coordinator"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/transport/transportmock"
)

func TestService_Run(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	m := &transportmock.MockTransport{}
	m.On("FetchCollection", mock.Anything, model.KindContainers).Return(model.Snapshot{Kind: model.KindContainers, Items: []model.TrackedResource{{ID: "c1"}}}, nil)
	m.On("FetchCollection", mock.Anything, model.KindScripts).Return(nil, fmt.Errorf("boom: %w", model.ErrTransport))
	c, err := coordinator.New(coordinator.Config{
		Transport: m,
		Kinds:     []model.ResourceKind{model.KindContainers, model.KindScripts},
	})
	require.NoError(err)

	svc, err := watch.NewService(watch.ServiceConfig{Watcher: c})
	require.NoError(err)

	var mu sync.Mutex
	var got []watch.Event
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, watch.Request{
			Kinds: []model.ResourceKind{model.KindContainers, model.KindScripts},
			OnEvent: func(ev watch.Event) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, ev)
			},
		})
	}()

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(<-done)

	mu.Lock()
	defer mu.Unlock()
	var changes, errs int
	for _, ev := range got {
		switch {
		case ev.Err != nil:
			errs++
			assert.Equal(model.KindScripts, ev.Kind)
			assert.ErrorIs(ev.Err.Err, model.ErrTransport)
		case ev.Resources != nil:
			changes++
			assert.Equal(model.KindContainers, ev.Kind)
			assert.Equal("c1", ev.Resources[0].ID)
		}
	}
	assert.Equal(1, changes)
	assert.Equal(1, errs)
}

func TestService_RunWithoutHandler(t *testing.T) {
	c, err := coordinator.New(coordinator.Config{Transport: &transportmock.MockTransport{}})
	require.NoError(t, err)
	defer c.Close()

	svc, err := watch.NewService(watch.ServiceConfig{Watcher: c})
	require.NoError(t, err)

	err = svc.Run(context.Background(), watch.Request{})
	assert.ErrorIs(t, err, model.ErrNotValid)
}
