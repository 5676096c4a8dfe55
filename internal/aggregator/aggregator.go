// Package aggregator merges the task states of one request into an
// AggregateSnapshot. Merge is a pure function: it reads its inputs, never
// mutates them, and returns identical output for identical input.
package aggregator

import (
	"sort"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// Input is everything Merge needs besides the previous snapshot.
type Input struct {
	RequestID types.RequestID
	Views     []worker.View
	Finalize  bool      // set by the scheduler for the terminal snapshot
	At        time.Time // stamped into GeneratedAt
}

// Merge folds the current task views into prev and returns the next snapshot.
//
// Invariants:
//   - per-worker completeness never decreases relative to prev
//   - Stage never decreases relative to prev
//   - degraded entries are never removed
//   - results from degraded tasks are not merged
//   - items of a degraded kind are left out of Sections
func Merge(prev types.AggregateSnapshot, in Input) types.AggregateSnapshot {
	next := prev.Clone()
	if next.RequestID == "" {
		next.RequestID = in.RequestID
	}
	next.Seq = prev.Seq + 1
	next.GeneratedAt = in.At

	views := orderViews(in.Views)
	for _, v := range views {
		cur, ok := next.PerWorker[v.Kind]
		if !ok {
			cur = types.EmptyResult(v.Kind)
		}
		if contributes(v) && supersedes(v.Result, cur) {
			cur = v.Result
		}
		next.PerWorker[v.Kind] = cur

		if d, ok := degradation(v, in.Finalize); ok {
			if _, exists := next.Degraded[v.Kind]; !exists {
				next.Degraded[v.Kind] = d
			}
		}
	}

	next.Stage = stageOf(prev.Stage, next, in.Finalize)
	next.Sections = buildSections(next, views)
	return next
}

// orderViews sorts by (priority, kind), the tie-break order for merging.
func orderViews(views []worker.View) []worker.View {
	out := append([]worker.View(nil), views...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func contributes(v worker.View) bool {
	if !v.HasResult {
		return false
	}
	switch v.Status {
	case worker.StatusFailed, worker.StatusTimedOut, worker.StatusCancelled:
		return false
	}
	return true
}

// supersedes reports whether candidate should replace cur. Higher
// completeness always wins; at equal completeness the newer result wins.
func supersedes(candidate, cur types.PartialResult) bool {
	cr, kr := candidate.Completeness.Rank(), cur.Completeness.Rank()
	if cr != kr {
		return cr > kr
	}
	if cr == 0 {
		return false
	}
	return candidate.GeneratedAt.After(cur.GeneratedAt)
}

func degradation(v worker.View, finalize bool) (types.Degradation, bool) {
	switch v.Status {
	case worker.StatusFailed:
		reason := v.Reason
		if reason == "" {
			reason = types.ReasonFailed
		}
		return types.Degradation{Kind: v.Kind, Reason: reason, Detail: v.Detail}, true
	case worker.StatusTimedOut:
		return types.Degradation{Kind: v.Kind, Reason: types.ReasonTimeout, Detail: v.Detail}, true
	case worker.StatusCancelled:
		return types.Degradation{Kind: v.Kind, Reason: types.ReasonCancelled, Detail: v.Detail}, true
	}
	if finalize && !v.Status.Terminal() {
		return types.Degradation{Kind: v.Kind, Reason: types.ReasonTimeout, Detail: "still running at finalization"}, true
	}
	return types.Degradation{}, false
}

func stageOf(prev types.Stage, next types.AggregateSnapshot, finalize bool) types.Stage {
	stage := types.StageQuickAck
	switch {
	case finalize:
		stage = types.StageFinal
	case hasData(next):
		stage = types.StagePartial
	}
	if prev.Rank() > stage.Rank() {
		return prev
	}
	return stage
}

func hasData(s types.AggregateSnapshot) bool {
	for _, r := range s.PerWorker {
		if r.Completeness.Rank() > 0 {
			return true
		}
	}
	return false
}
