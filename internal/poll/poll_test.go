package poll_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/poll"
	"github.com/slok/rctl/internal/store"
)

// fetcher returns the reports in order, repeating the last one.
type fetcher struct {
	mu      sync.Mutex
	reports []model.ExecutionReport
	errs    map[int]error
	calls   int
	block   chan struct{}
}

func (f *fetcher) FetchExecutionStatus(ctx context.Context, runID string) (model.ExecutionReport, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err := f.errs[call]; err != nil {
		return model.ExecutionReport{}, err
	}
	if call >= len(f.reports) {
		call = len(f.reports) - 1
	}
	r := f.reports[call]
	r.RunID = runID
	return r, nil
}

func (f *fetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// patcher wraps a store counting the patches.
type patcher struct {
	*store.Store
	patches atomic.Int32
}

func (p *patcher) Patch(kind model.ResourceKind, ticket store.Ticket, id string, patch model.ResourcePatch) error {
	p.patches.Add(1)
	return p.Store.Patch(kind, ticket, id, patch)
}

func newPatcher(t *testing.T) *patcher {
	s, err := store.NewStore(store.StoreConfig{})
	require.NoError(t, err)
	err = s.Replace(s.Ticket(model.KindScripts), model.Snapshot{Kind: model.KindScripts, Items: []model.TrackedResource{
		{ID: "backup.sh", Status: model.ResourceStatusRunning, Running: true},
	}})
	require.NoError(t, err)
	return &patcher{Store: s}
}

func running() model.ExecutionReport {
	return model.ExecutionReport{Status: model.ExecutionStatusRunning}
}

func waitResult(t *testing.T, ch <-chan model.ExecutionResult) model.ExecutionResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for execution result")
	}
	return model.ExecutionResult{}
}

func TestSupervisorTerminalStatus(t *testing.T) {
	done := model.ExecutionReport{Status: model.ExecutionStatusCompleted, Output: "done"}
	code := 2

	tests := map[string]struct {
		fetcher   *fetcher
		expResult model.ExecutionResult
		expChecks int
		expStatus model.ResourceStatus
	}{
		"An execution completed after 3 checks should deliver the output and clear the running flag.": {
			fetcher: &fetcher{reports: []model.ExecutionReport{
				{Status: model.ExecutionStatusPending}, running(), done,
			}},
			expResult: model.ExecutionResult{RunID: "r1", ResourceID: "backup.sh", Status: model.ExecutionStatusCompleted, Output: "done"},
			expChecks: 3,
			expStatus: model.ResourceStatusCompleted,
		},
		"A failed execution should deliver the error and return code.": {
			fetcher: &fetcher{reports: []model.ExecutionReport{
				{Status: model.ExecutionStatusFailed, Error: "exit status 2", ReturnCode: &code},
			}},
			expResult: model.ExecutionResult{RunID: "r1", ResourceID: "backup.sh", Status: model.ExecutionStatusFailed, Error: "exit status 2", ReturnCode: &code},
			expChecks: 1,
			expStatus: model.ResourceStatusFailed,
		},
		"Check errors should count as attempts and keep polling.": {
			fetcher: &fetcher{
				reports: []model.ExecutionReport{running(), running(), done},
				errs:    map[int]error{0: fmt.Errorf("connection refused: %w", model.ErrTransport)},
			},
			expResult: model.ExecutionResult{RunID: "r1", ResourceID: "backup.sh", Status: model.ExecutionStatusCompleted, Output: "done"},
			expChecks: 3,
			expStatus: model.ResourceStatusCompleted,
		},
		"A stopped execution should set the resource idle.": {
			fetcher:   &fetcher{reports: []model.ExecutionReport{{Status: model.ExecutionStatusStopped}}},
			expResult: model.ExecutionResult{RunID: "r1", ResourceID: "backup.sh", Status: model.ExecutionStatusStopped},
			expChecks: 1,
			expStatus: model.ResourceStatusIdle,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			p := newPatcher(t)
			sup, err := poll.NewSupervisor(poll.SupervisorConfig{Fetcher: test.fetcher, Store: p, Interval: 10 * time.Millisecond})
			require.NoError(err)

			global := make(chan model.ExecutionResult, 10)
			sup.OnAnyFinished(func(r model.ExecutionResult) { global <- r })

			h, err := sup.Track(context.TODO(), "r1", "backup.sh")
			require.NoError(err)
			assert.Equal(model.ExecutionStatusPending, h.Status)

			perRun := make(chan model.ExecutionResult, 10)
			_, err = sup.OnFinished("r1", func(r model.ExecutionResult) { perRun <- r })
			require.NoError(err)

			for _, ch := range []chan model.ExecutionResult{perRun, global} {
				got := waitResult(t, ch)
				assert.False(got.FinishedAt.IsZero())
				got.FinishedAt = time.Time{}
				got.StartedAt = time.Time{}
				assert.Equal(test.expResult, got)
			}

			assert.Equal(test.expChecks, test.fetcher.Calls())
			assert.EqualValues(1, p.patches.Load())
			res, err := p.Get(model.KindScripts, "backup.sh")
			require.NoError(err)
			assert.False(res.Running)
			assert.Equal(test.expStatus, res.Status)

			_, err = sup.Handle("r1")
			assert.ErrorIs(err, model.ErrNotFound)

			// Nothing else is delivered.
			time.Sleep(20 * time.Millisecond)
			assert.Empty(perRun)
			assert.Empty(global)
			assert.Equal(test.expChecks, test.fetcher.Calls())
		})
	}
}

func TestSupervisorTimesOutAfterMaxChecks(t *testing.T) {
	require := require.New(t)

	f := &fetcher{reports: []model.ExecutionReport{running()}}
	p := newPatcher(t)
	sup, err := poll.NewSupervisor(poll.SupervisorConfig{Fetcher: f, Store: p, Interval: time.Millisecond})
	require.NoError(err)

	results := make(chan model.ExecutionResult, 10)
	sup.OnAnyFinished(func(r model.ExecutionResult) { results <- r })

	_, err = sup.Track(context.TODO(), "r1", "backup.sh")
	require.NoError(err)

	got := waitResult(t, results)
	require.Equal(model.ExecutionStatusTimedOut, got.Status)
	require.Equal(poll.DefaultMaxAttempts, f.Calls())

	time.Sleep(20 * time.Millisecond)
	require.Equal(poll.DefaultMaxAttempts, f.Calls())
	require.EqualValues(1, p.patches.Load())

	res, err := p.Get(model.KindScripts, "backup.sh")
	require.NoError(err)
	require.False(res.Running)
}

func TestSupervisorListenerAfterFinishShouldGetTheResult(t *testing.T) {
	require := require.New(t)

	f := &fetcher{reports: []model.ExecutionReport{{Status: model.ExecutionStatusCompleted, Output: "done"}}}
	sup, err := poll.NewSupervisor(poll.SupervisorConfig{Fetcher: f, Store: newPatcher(t), Interval: time.Millisecond})
	require.NoError(err)

	global := make(chan model.ExecutionResult, 1)
	sup.OnAnyFinished(func(r model.ExecutionResult) { global <- r })
	_, err = sup.Track(context.TODO(), "r1", "backup.sh")
	require.NoError(err)
	waitResult(t, global)

	var got []model.ExecutionResult
	unsubscribe, err := sup.OnFinished("r1", func(r model.ExecutionResult) { got = append(got, r) })
	require.NoError(err)
	unsubscribe()
	require.Len(got, 1)
	require.Equal(model.ExecutionStatusCompleted, got[0].Status)
	require.Equal("done", got[0].Output)

	_, err = sup.OnFinished("r2", func(model.ExecutionResult) {})
	require.ErrorIs(err, model.ErrNotFound)
}

func TestSupervisorTrackTwiceShouldFail(t *testing.T) {
	require := require.New(t)

	f := &fetcher{reports: []model.ExecutionReport{running()}}
	sup, err := poll.NewSupervisor(poll.SupervisorConfig{Fetcher: f, Store: newPatcher(t), Interval: time.Hour})
	require.NoError(err)

	_, err = sup.Track(context.TODO(), "r1", "backup.sh")
	require.NoError(err)
	_, err = sup.Track(context.TODO(), "r1", "backup.sh")
	require.ErrorIs(err, model.ErrAlreadyExists)
	require.Len(sup.Handles(), 1)
	sup.DetachAll()
}

func TestSupervisorDetachAndReattach(t *testing.T) {
	require := require.New(t)

	f := &fetcher{reports: []model.ExecutionReport{running(), running(), {Status: model.ExecutionStatusCompleted, Output: "done"}}}
	p := newPatcher(t)
	sup, err := poll.NewSupervisor(poll.SupervisorConfig{Fetcher: f, Store: p, Interval: 10 * time.Millisecond, MaxAttempts: 5})
	require.NoError(err)

	results := make(chan model.ExecutionResult, 10)
	sup.OnAnyFinished(func(r model.ExecutionResult) { results <- r })

	_, err = sup.Track(context.TODO(), "r1", "backup.sh")
	require.NoError(err)
	require.NoError(sup.Detach("r1"))

	// Detached, no checks and no transition.
	time.Sleep(50 * time.Millisecond)
	require.Zero(f.Calls())
	h, err := sup.Handle("r1")
	require.NoError(err)
	require.Equal(model.ExecutionStatusPending, h.Status)
	require.Empty(results)

	require.NoError(sup.Reattach(context.TODO(), "r1"))
	got := waitResult(t, results)
	require.Equal(model.ExecutionStatusCompleted, got.Status)
	require.Equal(3, f.Calls())
	require.EqualValues(1, p.patches.Load())

	require.ErrorIs(sup.Detach("r1"), model.ErrNotFound)
	require.ErrorIs(sup.Reattach(context.TODO(), "r1"), model.ErrNotFound)
}

func TestSupervisorInFlightCheckCompletesAfterDetach(t *testing.T) {
	require := require.New(t)

	block := make(chan struct{})
	f := &fetcher{reports: []model.ExecutionReport{{Status: model.ExecutionStatusCompleted}}, block: block}
	p := newPatcher(t)
	sup, err := poll.NewSupervisor(poll.SupervisorConfig{Fetcher: f, Store: p, Interval: time.Millisecond})
	require.NoError(err)

	results := make(chan model.ExecutionResult, 10)
	sup.OnAnyFinished(func(r model.ExecutionResult) { results <- r })

	_, err = sup.Track(context.TODO(), "r1", "backup.sh")
	require.NoError(err)
	require.Eventually(func() bool { return f.Calls() == 1 }, time.Second, time.Millisecond)

	require.NoError(sup.Detach("r1"))
	close(block)

	got := waitResult(t, results)
	require.Equal(model.ExecutionStatusCompleted, got.Status)
	require.Equal(1, f.Calls())
}

func TestSupervisorCanceledContextDetaches(t *testing.T) {
	require := require.New(t)

	f := &fetcher{reports: []model.ExecutionReport{running()}}
	sup, err := poll.NewSupervisor(poll.SupervisorConfig{Fetcher: f, Store: newPatcher(t), Interval: time.Millisecond})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sup.Track(ctx, "r1", "backup.sh")
	require.NoError(err)

	time.Sleep(20 * time.Millisecond)
	require.Zero(f.Calls())
	h, err := sup.Handle("r1")
	require.NoError(err)
	require.Equal(model.ExecutionStatusPending, h.Status)
}
