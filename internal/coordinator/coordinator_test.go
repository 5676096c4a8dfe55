package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/scheduler"
	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var today = time.Date(2030, 2, 1, 10, 0, 0, 0, time.UTC)

func validRequest() types.Request {
	return types.Request{
		Destination: "  台北 ",
		Dates: types.DateRange{
			CheckIn:  types.MustParseDate("2030-03-01"),
			CheckOut: types.MustParseDate("2030-03-03"),
		},
		Party:  types.Party{Adults: 2},
		Budget: types.Budget{Min: 2000, Max: 5000},
	}
}

func testConfig(workers ...WorkerSpec) Config {
	return Config{
		QuickAck: 50 * time.Millisecond,
		Final:    300 * time.Millisecond,
		Workers:  workers,
		Today:    func() types.Date { return types.DateOf(today) },
	}
}

func counting(calls *int32, r types.PartialResult) worker.Producer {
	return worker.ProducerFunc(func(ctx context.Context, req types.Request) (types.PartialResult, error) {
		atomic.AddInt32(calls, 1)
		return r, nil
	})
}

func blocking() worker.Producer {
	return worker.ProducerFunc(func(ctx context.Context, req types.Request) (types.PartialResult, error) {
		<-ctx.Done()
		return types.PartialResult{}, context.Cause(ctx)
	})
}

func delayed(d time.Duration, r types.PartialResult) worker.Producer {
	return worker.ProducerFunc(func(ctx context.Context, req types.Request) (types.PartialResult, error) {
		select {
		case <-time.After(d):
			return r, nil
		case <-ctx.Done():
			return types.PartialResult{}, context.Cause(ctx)
		}
	})
}

func waitFinal(t *testing.T, ch interface {
	Final(context.Context) (types.AggregateSnapshot, error)
}) types.AggregateSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := ch.Final(ctx)
	require.NoError(t, err)
	return s
}

func hotelDone() types.PartialResult {
	return types.PartialResult{Payload: types.HotelPayload{Options: []types.HotelOption{{ID: "TPE001"}}}}
}

// ============================================================================
// Coordinator
// ============================================================================

func TestHandleRejectsInvalidRequest(t *testing.T) {
	var calls int32
	c := New(scheduler.New(scheduler.Config{}), testConfig(
		WorkerSpec{Kind: types.KindHotel, Producer: counting(&calls, hotelDone())},
	))

	req := validRequest()
	req.Destination = " "
	req.Party.Adults = 0
	req.Budget = types.Budget{Min: 5000, Max: 1000}

	ch, err := c.Handle(context.Background(), req)
	assert.Nil(t, ch)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Problems))
	for _, p := range verr.Problems {
		fields = append(fields, p.Field)
	}
	assert.ElementsMatch(t, []string{"destination", "party.adults", "budget"}, fields)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&calls), "no worker starts for a rejected request")
	assert.Nil(t, c.Channel())
}

func TestHandleRejectsPastCheckIn(t *testing.T) {
	c := New(scheduler.New(scheduler.Config{}), testConfig(WorkerSpec{Kind: types.KindHotel, Producer: blocking()}))

	req := validRequest()
	req.Dates.CheckIn = types.MustParseDate("2030-01-31")

	_, err := c.Handle(context.Background(), req)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "dates.check_in", verr.Problems[0].Field)
}

func TestHandleRunsRequest(t *testing.T) {
	var calls int32
	c := New(scheduler.New(scheduler.Config{}), testConfig(
		WorkerSpec{Kind: types.KindHotel, Priority: 0, Producer: counting(&calls, hotelDone())},
	))

	ch, err := c.Handle(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Same(t, ch, c.Channel())

	req := c.Request()
	assert.NotEmpty(t, req.ID, "an ID is assigned")
	assert.Equal(t, "台北", req.Destination, "destination is normalized")

	final := waitFinal(t, ch)
	assert.Equal(t, req.ID, final.RequestID)
	assert.Equal(t, types.CompletenessComplete, final.Completeness(types.KindHotel))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = c.Handle(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrAlreadyHandled)
}

func TestHandleKeepsGivenID(t *testing.T) {
	c := New(scheduler.New(scheduler.Config{}), testConfig(WorkerSpec{Kind: types.KindHotel, Producer: counting(new(int32), hotelDone())}))
	req := validRequest()
	req.ID = "trip-42"

	ch, err := c.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.RequestID("trip-42"), waitFinal(t, ch).RequestID)
}

func TestHandleNoWorkers(t *testing.T) {
	_, err := New(scheduler.New(scheduler.Config{}), testConfig()).Handle(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrNoWorkers)
}

func TestHandleBadDeadlines(t *testing.T) {
	cfg := testConfig(WorkerSpec{Kind: types.KindHotel, Producer: blocking()})
	cfg.QuickAck = time.Minute
	cfg.Final = time.Second

	_, err := New(scheduler.New(scheduler.Config{}), cfg).Handle(context.Background(), validRequest())
	assert.ErrorIs(t, err, scheduler.ErrInvalidDeadlines)
}

func TestCancel(t *testing.T) {
	c := New(scheduler.New(scheduler.Config{}), testConfig(
		WorkerSpec{Kind: types.KindHotel, Producer: counting(new(int32), hotelDone())},
		WorkerSpec{Kind: types.KindItinerary, Priority: 1, Producer: blocking()},
	))
	c.Cancel() // before Handle: no-op

	start := time.Now()
	ch, err := c.Handle(context.Background(), validRequest())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	c.Cancel()

	final := waitFinal(t, ch)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, types.CompletenessComplete, final.Completeness(types.KindHotel))
	require.True(t, final.IsDegraded(types.KindItinerary))
	assert.Equal(t, types.ReasonCancelled, final.Degraded[types.KindItinerary].Reason)

	c.Cancel() // after Final: no-op
}

func TestDeadlinesFollowWallClock(t *testing.T) {
	// The validation date is independent of the timers, whatever it is.
	for _, day := range []string{"2001-01-01", "2030-02-01"} {
		t.Run(day, func(t *testing.T) {
			cfg := testConfig(
				WorkerSpec{Kind: types.KindHotel, Producer: delayed(100*time.Millisecond, hotelDone())},
				WorkerSpec{Kind: types.KindItinerary, Priority: 1, Producer: blocking()},
			)
			cfg.Today = func() types.Date { return types.MustParseDate(day) }

			start := time.Now()
			ch, err := New(scheduler.New(scheduler.Config{}), cfg).Handle(context.Background(), validRequest())
			require.NoError(t, err)

			var stages []types.Stage
			var elapsed []time.Duration
			for snap := range ch.Updates(context.Background()) {
				stages = append(stages, snap.Stage)
				elapsed = append(elapsed, time.Since(start))
			}
			require.NotEmpty(t, stages)

			assert.Equal(t, types.StageQuickAck, stages[0])
			assert.GreaterOrEqual(t, elapsed[0], 40*time.Millisecond, "quick-ack fires at its deadline")

			last := len(stages) - 1
			assert.Equal(t, types.StageFinal, stages[last])
			assert.GreaterOrEqual(t, elapsed[last], 250*time.Millisecond, "final waits for its deadline")
			assert.Less(t, elapsed[last], time.Second)

			final, _ := ch.Latest()
			assert.Equal(t, types.CompletenessComplete, final.Completeness(types.KindHotel))
			assert.False(t, final.IsDegraded(types.KindHotel))
			assert.Equal(t, types.ReasonTimeout, final.Degraded[types.KindItinerary].Reason)
		})
	}
}

// ============================================================================
// Service
// ============================================================================

type fakeRequestRecorder struct {
	accepted int32
	rejected map[string]int
	inFlight int32
}

func (f *fakeRequestRecorder) RecordAccepted()         { atomic.AddInt32(&f.accepted, 1) }
func (f *fakeRequestRecorder) RecordRejected(r string) { f.rejected[r]++ }
func (f *fakeRequestRecorder) SetInFlight(n int)       { atomic.StoreInt32(&f.inFlight, int32(n)) }

func TestServiceLifecycle(t *testing.T) {
	rec := &fakeRequestRecorder{rejected: map[string]int{}}
	svc := NewService(scheduler.New(scheduler.Config{}), testConfig(
		WorkerSpec{Kind: types.KindItinerary, Producer: blocking()},
	), WithRecorder(rec))

	req := validRequest()
	req.ID = "trip-1"
	ticket, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.RequestID("trip-1"), ticket.RequestID)
	assert.Equal(t, 1, svc.Active())
	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.accepted))

	_, err = svc.Handle(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 1, rec.rejected["duplicate"])

	bad := validRequest()
	bad.Destination = ""
	_, err = svc.Handle(context.Background(), bad)
	assert.Error(t, err)
	assert.Equal(t, 1, rec.rejected["invalid"])

	ch, err := svc.Lookup("trip-1")
	require.NoError(t, err)
	assert.Same(t, ticket.Channel, ch)

	require.NoError(t, svc.Cancel("trip-1"))
	final := waitFinal(t, ch)
	assert.Equal(t, types.ReasonCancelled, final.Degraded[types.KindItinerary].Reason)

	assert.Eventually(t, func() bool { return svc.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&rec.inFlight))

	// Finished requests stay readable.
	ch, err = svc.Lookup("trip-1")
	require.NoError(t, err)
	latest, _ := ch.Latest()
	assert.True(t, latest.IsFinal())
	assert.ErrorIs(t, svc.Cancel("trip-1"), ErrFinished)

	_, err = svc.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownRequest)
	assert.ErrorIs(t, svc.Cancel("nope"), ErrUnknownRequest)
}

func TestServiceIgnoresCallerCancellation(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{}), testConfig(
		WorkerSpec{Kind: types.KindHotel, Producer: counting(new(int32), hotelDone())},
		WorkerSpec{Kind: types.KindItinerary, Priority: 1, Producer: blocking()},
	))

	ctx, cancel := context.WithCancel(context.Background())
	ticket, err := svc.Handle(ctx, validRequest())
	require.NoError(t, err)
	cancel()

	final := waitFinal(t, ticket.Channel)
	assert.Equal(t, types.ReasonTimeout, final.Degraded[types.KindItinerary].Reason)
}

func TestServiceWithoutRetention(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{}), testConfig(
		WorkerSpec{Kind: types.KindHotel, Producer: counting(new(int32), hotelDone())},
	), WithRetention(0))

	ticket, err := svc.Handle(context.Background(), validRequest())
	require.NoError(t, err)
	waitFinal(t, ticket.Channel)

	assert.Eventually(t, func() bool {
		_, err := svc.Lookup(ticket.RequestID)
		return errors.Is(err, ErrUnknownRequest)
	}, time.Second, 5*time.Millisecond)
}

func TestServiceCancelAll(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{}), testConfig(
		WorkerSpec{Kind: types.KindItinerary, Producer: blocking()},
	))

	var tickets []Ticket
	for i := 0; i < 3; i++ {
		ticket, err := svc.Handle(context.Background(), validRequest())
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}
	assert.Equal(t, 3, svc.Active())

	svc.CancelAll()
	for _, ticket := range tickets {
		final := waitFinal(t, ticket.Channel)
		assert.Equal(t, types.ReasonCancelled, final.Degraded[types.KindItinerary].Reason)
	}
	assert.Eventually(t, func() bool { return svc.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServiceReservesRequestID(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	var calls int32

	cfg := testConfig(WorkerSpec{Kind: types.KindItinerary, Producer: blocking()})
	cfg.Today = func() types.Date {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-gate
		}
		return types.DateOf(today)
	}
	svc := NewService(scheduler.New(scheduler.Config{}), cfg)

	req := validRequest()
	req.ID = "dup"

	type result struct {
		ticket Ticket
		err    error
	}
	first := make(chan result, 1)
	go func() {
		ticket, err := svc.Handle(context.Background(), req)
		first <- result{ticket, err}
	}()
	<-entered

	// The first request is still validating; its ID is already taken.
	_, err := svc.Handle(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	_, err = svc.Lookup("dup")
	assert.ErrorIs(t, err, ErrUnknownRequest, "not visible until scheduled")
	assert.Equal(t, 1, svc.Active())

	close(gate)
	r := <-first
	require.NoError(t, r.err)

	ch, err := svc.Lookup("dup")
	require.NoError(t, err)
	assert.Same(t, r.ticket.Channel, ch)

	require.NoError(t, svc.Cancel("dup"))
	final := waitFinal(t, r.ticket.Channel)
	assert.Equal(t, types.ReasonCancelled, final.Degraded[types.KindItinerary].Reason)
	assert.Eventually(t, func() bool { return svc.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServiceCancelWhileValidating(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})

	cfg := testConfig(WorkerSpec{Kind: types.KindItinerary, Producer: blocking()})
	cfg.Today = func() types.Date {
		close(entered)
		<-gate
		return types.DateOf(today)
	}
	svc := NewService(scheduler.New(scheduler.Config{}), cfg)

	req := validRequest()
	req.ID = "early"
	type result struct {
		ticket Ticket
		err    error
	}
	first := make(chan result, 1)
	go func() {
		ticket, err := svc.Handle(context.Background(), req)
		first <- result{ticket, err}
	}()
	<-entered

	require.NoError(t, svc.Cancel("early"))
	close(gate)

	start := time.Now()
	r := <-first
	require.NoError(t, r.err)
	final := waitFinal(t, r.ticket.Channel)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "cancelled before the final deadline")
	assert.Equal(t, types.ReasonCancelled, final.Degraded[types.KindItinerary].Reason)
}
