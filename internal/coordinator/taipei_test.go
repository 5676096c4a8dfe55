package coordinator_test

import (
	"context"
	"testing"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/config"
	"github.com/ChuLiYu/trip-planner/internal/coordinator"
	"github.com/ChuLiYu/trip-planner/internal/producer"
	"github.com/ChuLiYu/trip-planner/internal/scheduler"
	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taipei() types.Request {
	return types.Request{
		Destination: "台北",
		Dates: types.DateRange{
			CheckIn:  types.MustParseDate("2030-03-01"),
			CheckOut: types.MustParseDate("2030-03-03"),
		},
		Party:       types.Party{Adults: 2},
		Budget:      types.Budget{Min: 2000, Max: 5000},
		Preferences: "歷史 文化",
	}
}

func newTaipeiService(t *testing.T, catalogDelay time.Duration) *coordinator.Service {
	t.Helper()
	cfg := config.Defaults()
	src := producer.SourcesFor(config.UpstreamConfig{Mock: true}, catalogDelay)
	workers, err := producer.Registry(cfg.Workers, src, cfg.Upstream.SearchRadius)
	require.NoError(t, err)

	return coordinator.NewService(
		scheduler.New(scheduler.Config{GracePeriod: 20 * time.Millisecond}),
		coordinator.Config{
			QuickAck: 50 * time.Millisecond,
			Final:    300 * time.Millisecond,
			Workers:  workers,
			Today:    func() types.Date { return types.MustParseDate("2030-02-01") },
		},
	)
}

func finalSnapshot(t *testing.T, ticket coordinator.Ticket) types.AggregateSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := ticket.Channel.Final(ctx)
	require.NoError(t, err)
	return final
}

func TestTaipeiAllSectionsComplete(t *testing.T) {
	svc := newTaipeiService(t, 0)

	start := time.Now()
	ticket, err := svc.Handle(context.Background(), taipei())
	require.NoError(t, err)
	final := finalSnapshot(t, ticket)

	assert.Less(t, time.Since(start), 300*time.Millisecond, "no need to wait for the final deadline")
	assert.Empty(t, final.Degraded)
	for _, sec := range final.Sections.All() {
		assert.Equal(t, types.SectionComplete, sec.Status, sec.Name)
	}

	assert.Len(t, final.Sections.Accommodations.Hotels, 3)
	require.NotEmpty(t, final.Sections.PointsOfInterest.Stops)
	assert.Equal(t, "國立故宮博物院", final.Sections.PointsOfInterest.Stops[0].Name)
	assert.NotEmpty(t, final.Sections.Transportation.Transport)
}

func TestTaipeiSlowUpstreamDegrades(t *testing.T) {
	// Every catalog call takes longer than the whole request.
	svc := newTaipeiService(t, time.Second)

	ticket, err := svc.Handle(context.Background(), taipei())
	require.NoError(t, err)

	var stages []types.Stage
	for snap := range ticket.Channel.Updates(context.Background()) {
		stages = append(stages, snap.Stage)
	}
	require.NotEmpty(t, stages)
	assert.Equal(t, types.StageFinal, stages[len(stages)-1])

	final, _ := ticket.Channel.Latest()
	assert.Equal(t, []types.WorkerKind{types.KindHotel, types.KindItinerary}, final.DegradedKinds())
	assert.Equal(t, types.ReasonTimeout, final.Degraded[types.KindHotel].Reason)
	assert.Equal(t, types.SectionDegraded, final.Sections.Accommodations.Status)
	assert.Equal(t, types.SectionDegraded, final.Sections.PointsOfInterest.Status)

	// Transport advice needs no upstream call.
	assert.Equal(t, types.CompletenessComplete, final.Completeness(types.KindTransport))
	assert.NotEmpty(t, final.Sections.Transportation.Transport)
}
