package poll

import "github.com/slok/rctl/internal/model"

// DefaultRecentResults is the number of finished results kept for late listeners.
const DefaultRecentResults = 128

// RecentResults keeps the latest finished results by run id, dropping the oldest
// once full. It is not safe for concurrent use.
type RecentResults struct {
	max   int
	order []string
	byID  map[string]model.ExecutionResult
}

// NewRecentResults returns an empty RecentResults that holds up to max results.
func NewRecentResults(max int) *RecentResults {
	if max <= 0 {
		max = DefaultRecentResults
	}
	return &RecentResults{max: max, byID: map[string]model.ExecutionResult{}}
}

// Add stores a result, replacing a previous one with the same run id.
func (r *RecentResults) Add(res model.ExecutionResult) {
	if _, ok := r.byID[res.RunID]; ok {
		r.Forget(res.RunID)
	}
	if len(r.order) >= r.max {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
	r.order = append(r.order, res.RunID)
	r.byID[res.RunID] = res
}

// Get returns the result of a run if it is still kept.
func (r *RecentResults) Get(runID string) (model.ExecutionResult, bool) {
	res, ok := r.byID[runID]
	return res, ok
}

// Forget drops the result of a run.
func (r *RecentResults) Forget(runID string) {
	if _, ok := r.byID[runID]; !ok {
		return
	}
	delete(r.byID, runID)
	for i, id := range r.order {
		if id == runID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
