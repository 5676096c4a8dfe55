package producer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/api"
	"github.com/ChuLiYu/trip-planner/internal/config"
	"github.com/ChuLiYu/trip-planner/internal/coordinator"
	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// ErrUnknownKind is returned for a registry entry without a producer.
var ErrUnknownKind = errors.New("unknown worker kind")

// Sources are the data sources producers read from.
type Sources struct {
	Hotels HotelSource
	Places PlaceSource
}

// SourcesFor returns the upstream client, or the offline catalog when u asks
// for mock data or lacks credentials. catalogDelay simulates upstream
// latency for the catalog.
func SourcesFor(u config.UpstreamConfig, catalogDelay time.Duration) Sources {
	if u.UseMock() {
		slog.Info("Using offline catalog", "delay", catalogDelay)
		c := api.NewCatalog(catalogDelay)
		return Sources{Hotels: c, Places: c}
	}
	client := api.NewClient(api.Options{
		BaseURL:    u.BaseURL,
		APIKey:     u.APIKey,
		Timeout:    u.Timeout.D(),
		MaxRetries: u.MaxRetries,
		RetryDelay: u.RetryDelay.D(),
	})
	slog.Info("Using upstream API", "base_url", u.BaseURL)
	return Sources{Hotels: client, Places: client}
}

// Registry builds the coordinator's worker list from the enabled entries.
func Registry(workers []config.WorkerConfig, src Sources, searchRadius int) ([]coordinator.WorkerSpec, error) {
	specs := make([]coordinator.WorkerSpec, 0, len(workers))
	for _, w := range workers {
		if !w.Enabled {
			continue
		}
		p, err := New(w.Kind, src, searchRadius)
		if err != nil {
			return nil, err
		}
		specs = append(specs, coordinator.WorkerSpec{Kind: w.Kind, Priority: w.Priority, Producer: p})
	}
	return specs, nil
}

// New returns the producer for kind.
func New(kind types.WorkerKind, src Sources, searchRadius int) (worker.Producer, error) {
	switch kind {
	case types.KindHotel:
		if src.Hotels == nil {
			return nil, fmt.Errorf("%s: no hotel source", kind)
		}
		return NewHotels(src.Hotels), nil
	case types.KindItinerary:
		if src.Places == nil {
			return nil, fmt.Errorf("%s: no place source", kind)
		}
		return NewItinerary(src.Places, searchRadius), nil
	case types.KindTransport:
		return NewTransport(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
