package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.requestsAccepted)
	assert.NotNil(t, collector.requestsRejected)
	assert.NotNil(t, collector.inFlight)
	assert.NotNil(t, collector.timeToFinal)
	assert.NotNil(t, collector.snapshots)
	assert.NotNil(t, collector.workerOutcomes)
	assert.NotNil(t, collector.workerDuration)
	assert.NotNil(t, collector.degraded)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWith(reg)

	assert.Panics(t, func() {
		NewCollectorWith(reg)
	}, "registering the same metrics twice should panic")
}

func TestRequestCounters(t *testing.T) {
	c := NewCollectorWith(prometheus.NewRegistry())

	for i := 0; i < 3; i++ {
		c.RecordAccepted()
	}
	c.RecordRejected("invalid")
	c.RecordRejected("invalid")
	c.RecordRejected("duplicate")

	assert.Equal(t, 3.0, testutil.ToFloat64(c.requestsAccepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsRejected.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requestsRejected.WithLabelValues("duplicate")))
}

func TestSetInFlight(t *testing.T) {
	c := NewCollectorWith(prometheus.NewRegistry())

	c.SetInFlight(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(c.inFlight))

	c.SetInFlight(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight))
}

func TestSnapshotAndWorkerCounters(t *testing.T) {
	c := NewCollectorWith(prometheus.NewRegistry())

	c.RecordSnapshot(types.StageQuickAck)
	c.RecordSnapshot(types.StagePartial)
	c.RecordSnapshot(types.StagePartial)
	c.RecordSnapshot(types.StageFinal)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.snapshots.WithLabelValues("quick_ack")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.snapshots.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.snapshots.WithLabelValues("final")))

	c.RecordWorkerOutcome(types.KindHotel, "succeeded", 120*time.Millisecond)
	c.RecordWorkerOutcome(types.KindItinerary, "timed_out", 0)
	c.RecordDegraded(types.KindItinerary, types.ReasonTimeout)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerOutcomes.WithLabelValues("hotel", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerOutcomes.WithLabelValues("itinerary", "timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.degraded.WithLabelValues("itinerary", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.workerDuration), "zero durations are not observed")
}

func TestRecordTimeToFinal(t *testing.T) {
	c := NewCollectorWith(prometheus.NewRegistry())

	for _, d := range []time.Duration{10 * time.Millisecond, 5 * time.Second, 30 * time.Second} {
		assert.NotPanics(t, func() {
			c.RecordTimeToFinal(d)
		})
	}
	assert.Equal(t, 1, testutil.CollectAndCount(c.timeToFinal))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWith(reg)
	c.RecordAccepted()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "planner_requests_accepted_total 1"))
}

func TestNewServer(t *testing.T) {
	srv := NewServer(9191)
	assert.Equal(t, ":9191", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
