// ============================================================================
// Trip-Planner Worker - Task Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Runs one producer in its own goroutine and reports every state
//           transition back to the scheduler loop
//
// How it works:
//   1. Send EventStarted
//   2. Call the producer (progressive producers may send EventInterim)
//   3. Classify the outcome and send EventFinished
//
// Execution Model:
//   ┌─────────────────────────────────────┐
//   │  Worker Goroutine                   │
//   │  ┌──────────────────────────────┐   │
//   │  │ started  → events            │   │
//   │  │ produce(ctx) ─┬─ interim ──→ │   │
//   │  │               └─ finished ─→ │   │
//   │  └──────────────────────────────┘   │
//   └─────────────────────────────────────┘
//
// Cancellation:
//   The context carries a cause (ErrFinalDeadline or ErrCancelled). A producer
//   that returns an error after cancellation is classified by that cause, so
//   the degraded reason reads "timeout" or "cancelled" instead of "failed".
//
// Delivery:
//   Every send selects on the done channel. Once the scheduler has emitted its
//   Final snapshot it stops reading, and late producers exit without blocking.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// Assignment is the part of a Task a worker needs. Workers never touch the
// scheduler-owned Task itself.
type Assignment struct {
	ID       TaskID
	Kind     types.WorkerKind
	Priority int
	Producer Producer
}

// AssignmentOf extracts the worker-facing part of t.
func AssignmentOf(t *Task) Assignment {
	return Assignment{ID: t.ID, Kind: t.Kind, Priority: t.Priority, Producer: t.Producer}
}

// Worker executes a single assignment
type Worker struct {
	job    Assignment
	req    types.Request
	events chan<- Event    // write-only, read by the scheduler loop
	done   <-chan struct{} // closed when the scheduler stops listening
}

func newWorker(job Assignment, req types.Request, events chan<- Event, done <-chan struct{}) *Worker {
	return &Worker{job: job, req: req, events: events, done: done}
}

// Run executes the producer and reports started/interim/finished events.
func (w *Worker) Run(ctx context.Context) {
	w.emit(Event{Type: EventStarted})

	result, err := w.execute(ctx)
	if err != nil {
		reason := classify(ctx, err)
		var fatal *FatalError
		if errors.As(err, &fatal) {
			slog.Error("Producer panicked",
				"kind", w.job.Kind,
				"task", w.job.ID,
				"panic", fatal.Value,
				"stack", string(fatal.Stack))
		}
		w.emit(Event{Type: EventFinished, Err: err, Reason: reason})
		return
	}

	w.emit(Event{Type: EventFinished, Result: w.normalize(result, types.CompletenessComplete)})
}

// execute calls the producer, converting a panic into a *FatalError.
func (w *Worker) execute(ctx context.Context) (result types.PartialResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Value: r, Stack: debug.Stack()}
		}
	}()

	if pp, ok := w.job.Producer.(ProgressiveProducer); ok {
		return pp.ProduceProgressive(ctx, w.req, w.report)
	}
	return w.job.Producer.Produce(ctx, w.req)
}

func (w *Worker) report(r types.PartialResult) {
	w.emit(Event{Type: EventInterim, Result: w.normalize(r, types.CompletenessPreliminary)})
}

// normalize stamps the result with the task kind, a generation time and, when
// the producer left it empty, the fallback completeness. A reported result is
// never Empty.
func (w *Worker) normalize(r types.PartialResult, fallback types.Completeness) types.PartialResult {
	r.Kind = w.job.Kind
	if r.Completeness.Rank() == 0 {
		r.Completeness = fallback
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}
	return r
}

func (w *Worker) emit(e Event) {
	e.TaskID = w.job.ID
	e.Kind = w.job.Kind
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case w.events <- e:
	case <-w.done:
	}
}

// classify maps a producer error to a degradation reason.
func classify(ctx context.Context, err error) types.ReasonCode {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return types.ReasonFatal
	}
	if ctx.Err() != nil {
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, ErrFinalDeadline):
			return types.ReasonTimeout
		case errors.Is(cause, ErrCancelled):
			return types.ReasonCancelled
		}
	}
	return types.ReasonFailed
}
