package worker

// ============================================================================
// Worker / Dispatcher Test File
// Purpose: Verify event reporting, outcome classification, priority ordering
//          and the concurrency limit
// ============================================================================

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func testRequest() types.Request {
	return types.Request{ID: "req-1", Destination: "台北", Party: types.Party{Adults: 1}}
}

// runOne runs a single assignment and returns every event it reported.
func runOne(t *testing.T, ctx context.Context, p Producer) []Event {
	t.Helper()
	events := make(chan Event, 16)
	done := make(chan struct{})
	w := newWorker(Assignment{ID: "task-1", Kind: types.KindHotel, Producer: p}, testRequest(), events, done)
	w.Run(ctx)
	close(events)

	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

type stepper struct{}

func (stepper) Produce(ctx context.Context, req types.Request) (types.PartialResult, error) {
	return types.PartialResult{}, errors.New("Produce must not be called")
}

func (stepper) ProduceProgressive(ctx context.Context, req types.Request, report ReportFunc) (types.PartialResult, error) {
	report(types.PartialResult{Payload: types.HotelPayload{}})
	report(types.PartialResult{Completeness: types.CompletenessPreliminary, Payload: types.HotelPayload{}})
	return types.PartialResult{Payload: types.HotelPayload{}}, nil
}

// ============================================================================
// Worker
// ============================================================================

func TestWorkerSuccess(t *testing.T) {
	events := runOne(t, context.Background(), ProducerFunc(func(ctx context.Context, req types.Request) (types.PartialResult, error) {
		assert.Equal(t, types.RequestID("req-1"), req.ID)
		return types.PartialResult{Payload: types.HotelPayload{}}, nil
	}))

	require.Len(t, events, 2)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, TaskID("task-1"), events[0].TaskID)

	fin := events[1]
	assert.Equal(t, EventFinished, fin.Type)
	assert.NoError(t, fin.Err)
	assert.Equal(t, types.KindHotel, fin.Result.Kind, "kind is stamped")
	assert.Equal(t, types.CompletenessComplete, fin.Result.Completeness, "empty completeness becomes complete")
	assert.False(t, fin.Result.GeneratedAt.IsZero())
	assert.False(t, fin.At.IsZero())
}

func TestWorkerProgressive(t *testing.T) {
	events := runOne(t, context.Background(), stepper{})

	require.Len(t, events, 4)
	assert.Equal(t, EventInterim, events[1].Type)
	assert.Equal(t, types.CompletenessPreliminary, events[1].Result.Completeness)
	assert.Equal(t, EventInterim, events[2].Type)
	assert.Equal(t, EventFinished, events[3].Type)
	assert.Equal(t, types.CompletenessComplete, events[3].Result.Completeness)
}

func TestWorkerFailure(t *testing.T) {
	events := runOne(t, context.Background(), ProducerFunc(func(context.Context, types.Request) (types.PartialResult, error) {
		return types.PartialResult{}, errors.New("upstream 503")
	}))

	fin := events[len(events)-1]
	assert.EqualError(t, fin.Err, "upstream 503")
	assert.Equal(t, types.ReasonFailed, fin.Reason)
}

func TestWorkerPanic(t *testing.T) {
	events := runOne(t, context.Background(), ProducerFunc(func(context.Context, types.Request) (types.PartialResult, error) {
		var m map[string]int
		m["x"] = 1
		return types.PartialResult{}, nil
	}))

	fin := events[len(events)-1]
	var fatal *FatalError
	require.ErrorAs(t, fin.Err, &fatal)
	assert.NotEmpty(t, fatal.Stack)
	assert.Equal(t, types.ReasonFatal, fin.Reason)
}

func TestWorkerCancellationCause(t *testing.T) {
	cases := []struct {
		name  string
		cause error
		want  types.ReasonCode
	}{
		{"final deadline", ErrFinalDeadline, types.ReasonTimeout},
		{"caller", ErrCancelled, types.ReasonCancelled},
		{"other", errors.New("shutdown"), types.ReasonFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancelCause(context.Background())
			cancel(tc.cause)

			events := runOne(t, ctx, ProducerFunc(func(ctx context.Context, _ types.Request) (types.PartialResult, error) {
				<-ctx.Done()
				return types.PartialResult{}, ctx.Err()
			}))
			assert.Equal(t, tc.want, events[len(events)-1].Reason)
		})
	}
}

func TestWorkerDoesNotBlockAfterDone(t *testing.T) {
	events := make(chan Event) // nobody reads
	done := make(chan struct{})
	close(done)

	w := newWorker(Assignment{ID: "t", Kind: types.KindHotel, Producer: stepper{}}, testRequest(), events, done)
	finished := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("worker blocked on a closed scheduler")
	}
}

// ============================================================================
// Dispatcher
// ============================================================================

func TestDispatchStartsAll(t *testing.T) {
	events := make(chan Event, 16)
	done := make(chan struct{})
	d := NewDispatcher(0, events, done)

	var calls int32
	p := ProducerFunc(func(context.Context, types.Request) (types.PartialResult, error) {
		atomic.AddInt32(&calls, 1)
		return types.PartialResult{}, nil
	})
	jobs := []Assignment{
		{ID: "a", Kind: types.KindHotel, Producer: p},
		{ID: "b", Kind: types.KindItinerary, Producer: p},
		{ID: "c", Kind: types.KindTransport, Producer: p},
	}

	require.NoError(t, d.Dispatch(context.Background(), testRequest(), jobs))
	d.Wait()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, events, 6, "started + finished per job")

	assert.ErrorIs(t, d.Dispatch(context.Background(), testRequest(), jobs), ErrAlreadyDispatched)
}

func TestDispatchDuplicateKind(t *testing.T) {
	d := NewDispatcher(0, make(chan Event, 4), make(chan struct{}))
	err := d.Dispatch(context.Background(), testRequest(), []Assignment{
		{ID: "a", Kind: types.KindHotel},
		{ID: "b", Kind: types.KindHotel},
	})
	assert.ErrorIs(t, err, ErrDuplicateKind)
}

func TestDispatchConcurrencyLimit(t *testing.T) {
	events := make(chan Event, 32)
	d := NewDispatcher(2, events, make(chan struct{}))

	var running, peak int32
	var mu sync.Mutex
	var order []types.WorkerKind
	p := func(kind types.WorkerKind) Producer {
		return ProducerFunc(func(context.Context, types.Request) (types.PartialResult, error) {
			mu.Lock()
			order = append(order, kind)
			mu.Unlock()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return types.PartialResult{}, nil
		})
	}

	jobs := []Assignment{
		{ID: "d", Kind: "weather", Priority: 3, Producer: p("weather")},
		{ID: "c", Kind: types.KindTransport, Priority: 2, Producer: p(types.KindTransport)},
		{ID: "a", Kind: types.KindHotel, Priority: 0, Producer: p(types.KindHotel)},
		{ID: "b", Kind: types.KindItinerary, Priority: 1, Producer: p(types.KindItinerary)},
	}
	require.NoError(t, d.Dispatch(context.Background(), testRequest(), jobs))
	d.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 4)
	assert.ElementsMatch(t, []types.WorkerKind{types.KindHotel, types.KindItinerary}, order[:2])
}

func TestDispatchStopsWhenContextEnds(t *testing.T) {
	events := make(chan Event, 16)
	d := NewDispatcher(1, events, make(chan struct{}))
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	blocker := ProducerFunc(func(ctx context.Context, _ types.Request) (types.PartialResult, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return types.PartialResult{}, ctx.Err()
	})
	jobs := []Assignment{
		{ID: "a", Kind: types.KindHotel, Producer: blocker},
		{ID: "b", Kind: types.KindItinerary, Priority: 1, Producer: blocker},
	}
	require.NoError(t, d.Dispatch(ctx, testRequest(), jobs))

	time.Sleep(20 * time.Millisecond)
	cancel()
	d.Wait()

	// Wait returned: the queued job was either skipped or started with a
	// done context.
	n := atomic.LoadInt32(&calls)
	assert.True(t, n == 1 || n == 2, "calls = %d", n)
}

func TestSortByPriority(t *testing.T) {
	sorted := SortByPriority([]Assignment{
		{Kind: types.KindTransport, Priority: 1},
		{Kind: types.KindItinerary, Priority: 1},
		{Kind: types.KindHotel, Priority: 5},
	})
	assert.Equal(t, types.KindItinerary, sorted[0].Kind)
	assert.Equal(t, types.KindTransport, sorted[1].Kind)
	assert.Equal(t, types.KindHotel, sorted[2].Kind)
}

func TestNewTask(t *testing.T) {
	task := NewTask(types.KindHotel, 3, nil)
	assert.Equal(t, StatusPending, task.Status)
	assert.Contains(t, string(task.ID), "hotel-")

	v := task.View()
	assert.False(t, v.HasResult)
	assert.Equal(t, 3, v.Priority)

	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
