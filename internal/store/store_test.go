package store_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/store"
)

func res(id string, st model.ResourceStatus) model.TrackedResource {
	return model.TrackedResource{
		ID:      id,
		Kind:    model.KindContainers,
		Status:  st,
		Running: st == model.ResourceStatusRunning,
		Fields:  map[string]string{"name": id},
	}
}

func snap(items ...model.TrackedResource) model.Snapshot {
	return model.Snapshot{Kind: model.KindContainers, Items: items}
}

func ids(items []model.TrackedResource) []string {
	r := []string{}
	for _, it := range items {
		r = append(r, it.ID)
	}
	return r
}

func newStore(t *testing.T) *store.Store {
	s, err := store.NewStore(store.StoreConfig{})
	require.NoError(t, err)
	return s
}

func TestStoreReplace(t *testing.T) {
	tests := map[string]struct {
		initial  []model.Snapshot
		replace  model.Snapshot
		expIDs   []string
		expState map[string]model.ResourceStatus
	}{
		"Replacing an empty collection should add all the items in server order.": {
			replace:  snap(res("c", model.ResourceStatusIdle), res("a", model.ResourceStatusRunning)),
			expIDs:   []string{"c", "a"},
			expState: map[string]model.ResourceStatus{"c": model.ResourceStatusIdle, "a": model.ResourceStatusRunning},
		},
		"Entries only in the old set should be removed and new ones appended.": {
			initial:  []model.Snapshot{snap(res("a", model.ResourceStatusIdle), res("b", model.ResourceStatusIdle))},
			replace:  snap(res("b", model.ResourceStatusRunning), res("d", model.ResourceStatusIdle)),
			expIDs:   []string{"b", "d"},
			expState: map[string]model.ResourceStatus{"b": model.ResourceStatusRunning, "d": model.ResourceStatusIdle},
		},
		"Duplicated ids in the snapshot should keep the first one.": {
			replace:  snap(res("a", model.ResourceStatusIdle), res("a", model.ResourceStatusRunning)),
			expIDs:   []string{"a"},
			expState: map[string]model.ResourceStatus{"a": model.ResourceStatusIdle},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			s := newStore(t)
			for _, sn := range test.initial {
				require.NoError(s.Replace(s.Ticket(model.KindContainers), sn))
			}
			err := s.Replace(s.Ticket(model.KindContainers), test.replace)
			require.NoError(err)

			items := s.List(model.KindContainers)
			assert.Equal(test.expIDs, ids(items))
			for _, it := range items {
				assert.Equal(test.expState[it.ID], it.Status)
				assert.Equal(model.KindContainers, it.Kind)
				assert.False(it.LastSyncedAt.IsZero())
			}
		})
	}
}

func TestStoreReplaceOutOfOrderResultsShouldApplyTheNewest(t *testing.T) {
	require := require.New(t)

	s := newStore(t)
	t1 := s.Ticket(model.KindContainers)
	t2 := s.Ticket(model.KindContainers)

	// Request 2 is fast and arrives first.
	require.NoError(s.Replace(t2, snap(res("a", model.ResourceStatusRunning), res("b", model.ResourceStatusIdle))))
	err := s.Replace(t1, snap(res("a", model.ResourceStatusIdle), res("z", model.ResourceStatusIdle)))
	require.ErrorIs(err, model.ErrStaleResult)

	items := s.List(model.KindContainers)
	require.Equal([]string{"a", "b"}, ids(items))
	require.Equal(model.ResourceStatusRunning, items[0].Status)
}

func TestStoreReplaceShouldPreservePendingActions(t *testing.T) {
	require := require.New(t)

	const rounds = 200
	rnd := rand.New(rand.NewSource(42))
	all := []string{"a", "b", "c", "d", "e", "f"}
	statuses := []model.ResourceStatus{model.ResourceStatusIdle, model.ResourceStatusRunning, model.ResourceStatusError}

	s := newStore(t)
	var items []model.TrackedResource
	for _, id := range all {
		items = append(items, res(id, model.ResourceStatusIdle))
	}
	require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(items...)))

	pending := map[string]model.PendingAction{}
	for i := 0; i < rounds; i++ {
		// Start some actions on random resources.
		for _, it := range s.List(model.KindContainers) {
			if _, ok := pending[it.ID]; ok || rnd.Intn(4) != 0 {
				continue
			}
			pa := model.PendingAction{Action: model.ActionStart, Token: fmt.Sprintf("tk-%d-%s", i, it.ID)}
			_, err := s.BeginAction(model.KindContainers, it.ID, pa)
			require.NoError(err)
			pending[it.ID] = pa
		}

		// Random snapshot, random subset and order.
		var sitems []model.TrackedResource
		for _, j := range rnd.Perm(len(all)) {
			if rnd.Intn(3) == 0 {
				continue
			}
			sitems = append(sitems, res(all[j], statuses[rnd.Intn(len(statuses))]))
		}
		require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(sitems...)))

		got := map[string]*model.PendingAction{}
		for _, it := range s.List(model.KindContainers) {
			got[it.ID] = it.PendingAction
		}
		for id, pa := range pending {
			require.Contains(got, id)
			require.NotNil(got[id])
			require.Equal(pa, *got[id])
		}
	}
}

func TestStoreReplacePendingMissingEntryIsAppendedAtTheEnd(t *testing.T) {
	require := require.New(t)

	s := newStore(t)
	require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle), res("b", model.ResourceStatusIdle))))
	_, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionDelete, Token: "t"})
	require.NoError(err)

	require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("b", model.ResourceStatusIdle), res("c", model.ResourceStatusIdle))))

	require.Equal([]string{"b", "c", "a"}, ids(s.List(model.KindContainers)))
}

func TestStorePatch(t *testing.T) {
	running := model.ResourceStatusRunning
	completed := model.ResourceStatusCompleted

	tests := map[string]struct {
		exec      func(s *store.Store) error
		expErr    error
		expStatus model.ResourceStatus
	}{
		"A patch on a missing resource should fail.": {
			exec: func(s *store.Store) error {
				return s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "missing", model.ResourcePatch{Status: &running})
			},
			expErr:    model.ErrNotFound,
			expStatus: model.ResourceStatusIdle,
		},
		"A patch with a newer ticket should be applied.": {
			exec: func(s *store.Store) error {
				return s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "a", model.ResourcePatch{Status: &running})
			},
			expStatus: model.ResourceStatusRunning,
		},
		"A late patch from an older response should not regress a newer one.": {
			exec: func(s *store.Store) error {
				old := s.Ticket(model.KindContainers)
				newer := s.Ticket(model.KindContainers)
				if err := s.Patch(model.KindContainers, newer, "a", model.ResourcePatch{Status: &completed}); err != nil {
					return err
				}
				return s.Patch(model.KindContainers, old, "a", model.ResourcePatch{Status: &running})
			},
			expErr:    model.ErrStaleResult,
			expStatus: model.ResourceStatusCompleted,
		},
		"A newer running patch after completed should be applied, state can cycle.": {
			exec: func(s *store.Store) error {
				if err := s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "a", model.ResourcePatch{Status: &completed}); err != nil {
					return err
				}
				return s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "a", model.ResourcePatch{Status: &running})
			},
			expStatus: model.ResourceStatusRunning,
		},
		"A removal patch should delete the entry.": {
			exec: func(s *store.Store) error {
				if err := s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "a", model.ResourcePatch{Removed: true}); err != nil {
					return err
				}
				_, err := s.Get(model.KindContainers, "a")
				return err
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			s := newStore(t)
			require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle))))

			err := test.exec(s)
			if test.expErr != nil {
				require.ErrorIs(err, test.expErr)
			} else {
				require.NoError(err)
			}

			if test.expStatus != "" {
				got, err := s.Get(model.KindContainers, "a")
				require.NoError(err)
				require.Equal(test.expStatus, got.Status)
			}
		})
	}
}

func TestStoreReplaceShouldNotOverwriteNewerPatches(t *testing.T) {
	require := require.New(t)

	s := newStore(t)
	require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle))))

	// A refresh is issued, then an action confirms before the refresh result arrives.
	refresh := s.Ticket(model.KindContainers)
	running := model.ResourceStatusRunning
	require.NoError(s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "a", model.ResourcePatch{Status: &running}))
	require.NoError(s.Replace(refresh, snap(res("a", model.ResourceStatusIdle))))

	got, err := s.Get(model.KindContainers, "a")
	require.NoError(err)
	require.Equal(model.ResourceStatusRunning, got.Status)
}

func TestStoreActions(t *testing.T) {
	tests := map[string]struct {
		exec      func(t *testing.T, s *store.Store)
		expStatus model.ResourceStatus
		expPend   bool
	}{
		"Begin should set the pending action and the optimistic status.": {
			exec: func(t *testing.T, s *store.Store) {
				_, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
			},
			expStatus: model.ResourceStatusStarting,
			expPend:   true,
		},
		"A second begin should fail with already in flight.": {
			exec: func(t *testing.T, s *store.Store) {
				_, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
				_, err = s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStop, Token: "t2"})
				require.ErrorIs(t, err, model.ErrAlreadyInFlight)
			},
			expStatus: model.ResourceStatusStarting,
			expPend:   true,
		},
		"A failed action should revert the optimistic status.": {
			exec: func(t *testing.T, s *store.Store) {
				tk, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
				s.EndAction(model.KindContainers, "a", "t1", tk, nil)
			},
			expStatus: model.ResourceStatusIdle,
		},
		"A confirmed action should apply the confirmed fields.": {
			exec: func(t *testing.T, s *store.Store) {
				tk, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
				p := model.StatusPatch(model.ResourceStatusRunning)
				s.EndAction(model.KindContainers, "a", "t1", tk, &p)
			},
			expStatus: model.ResourceStatusRunning,
		},
		"Ending with a token that is not the owner should not clear the pending action.": {
			exec: func(t *testing.T, s *store.Store) {
				tk, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
				s.EndAction(model.KindContainers, "a", "other", tk, nil)
			},
			expStatus: model.ResourceStatusStarting,
			expPend:   true,
		},
		"A confirmation after a newer refresh should still apply the confirmed fields.": {
			exec: func(t *testing.T, s *store.Store) {
				tk, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
				require.NoError(t, s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle))))
				p := model.StatusPatch(model.ResourceStatusRunning)
				s.EndAction(model.KindContainers, "a", "t1", tk, &p)
			},
			expStatus: model.ResourceStatusRunning,
		},
		"A refresh issued before the confirmation should not override it.": {
			exec: func(t *testing.T, s *store.Store) {
				tk, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
				refresh := s.Ticket(model.KindContainers)
				p := model.StatusPatch(model.ResourceStatusRunning)
				s.EndAction(model.KindContainers, "a", "t1", tk, &p)
				require.NoError(t, s.Replace(refresh, snap(res("a", model.ResourceStatusIdle))))
			},
			expStatus: model.ResourceStatusRunning,
		},
		"A failure after a newer refresh should not revert the refreshed status.": {
			exec: func(t *testing.T, s *store.Store) {
				tk, err := s.BeginAction(model.KindContainers, "a", model.PendingAction{Action: model.ActionStart, Token: "t1"})
				require.NoError(t, err)
				require.NoError(t, s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusRunning))))
				s.EndAction(model.KindContainers, "a", "t1", tk, nil)
			},
			expStatus: model.ResourceStatusRunning,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			s := newStore(t)
			require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle))))

			test.exec(t, s)

			got, err := s.Get(model.KindContainers, "a")
			require.NoError(err)
			require.Equal(test.expStatus, got.Status)
			require.Equal(test.expPend, got.PendingAction != nil)
		})
	}
}

func TestStoreNotifications(t *testing.T) {
	require := require.New(t)

	s := newStore(t)
	var changes []store.Change
	unsubscribe := s.Subscribe(func(c store.Change) { changes = append(changes, c) })

	require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle))))
	require.Len(changes, 1)

	// Multiple mutations in a batch are a single notification.
	running := model.ResourceStatusRunning
	s.Batch(func() {
		require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle), res("b", model.ResourceStatusIdle))))
		require.NoError(s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "b", model.ResourcePatch{Status: &running}))
		// Nested batches flush with the outer one.
		s.Batch(func() {
			require.NoError(s.Patch(model.KindContainers, s.Ticket(model.KindContainers), "a", model.ResourcePatch{Status: &running}))
		})
		require.Len(changes, 1)
	})
	require.Len(changes, 2)
	require.Equal([]string{"a", "b"}, ids(changes[1].Items))
	require.Equal(model.ResourceStatusRunning, changes[1].Items[0].Status)

	// Stale results are not notified.
	old := s.Ticket(model.KindContainers)
	require.NoError(s.Replace(s.Ticket(model.KindContainers), snap(res("a", model.ResourceStatusIdle))))
	require.Error(s.Replace(old, snap()))
	require.Len(changes, 3)

	// Listeners get copies.
	changes[2].Items[0].Fields["name"] = "mutated"
	got, err := s.Get(model.KindContainers, "a")
	require.NoError(err)
	require.Equal("a", got.Fields["name"])

	unsubscribe()
	unsubscribe()
	require.NoError(s.Replace(s.Ticket(model.KindContainers), snap()))
	require.Len(changes, 3)
}
