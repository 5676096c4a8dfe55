package aggregator

import (
	"sort"

	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// sectionSources lists the worker kinds expected to feed each section.
// Kinds not listed here still contribute through their payload type; the
// table only decides which kinds a section waits for.
var sectionSources = map[types.SectionName][]types.WorkerKind{
	types.SectionAccommodations:   {types.KindHotel},
	types.SectionPointsOfInterest: {types.KindItinerary},
	types.SectionTransportation:   {types.KindItinerary, types.KindTransport},
}

// Messages shown in place of a section's data.
const (
	msgWorking      = "still working on this section"
	msgNotRequested = "no worker was asked for this section"
	msgNoResults    = "no matching results"
	msgTimeout      = "could not complete this section in time"
	msgFailed       = "could not complete this section: the search failed"
	msgCancelled    = "the request was cancelled before this section completed"
)

// contribution is the data one worker adds to one section.
type contribution struct {
	kind   types.WorkerKind
	result types.PartialResult
}

// sectionData is the per-section accumulation produced by the adapters.
type sectionData struct {
	hotels    []types.HotelOption
	stops     []types.ItineraryStop
	transport []types.TransportNote
	from      map[types.SectionName][]contribution
}

func buildSections(s types.AggregateSnapshot, views []worker.View) types.Sections {
	requested := make(map[types.WorkerKind]bool, len(views))
	for _, v := range views {
		requested[v.Kind] = true
	}

	data := collect(s, resultOrder(s, views))
	final := s.Stage == types.StageFinal

	return types.Sections{
		Accommodations:   section(types.SectionAccommodations, s, data, requested, final),
		PointsOfInterest: section(types.SectionPointsOfInterest, s, data, requested, final),
		Transportation:   section(types.SectionTransportation, s, data, requested, final),
	}
}

// resultOrder returns the kinds of s.PerWorker in merge order: kinds with a
// view first in (priority, kind) order, then any remaining kinds by name.
func resultOrder(s types.AggregateSnapshot, views []worker.View) []types.WorkerKind {
	order := make([]types.WorkerKind, 0, len(s.PerWorker))
	seen := make(map[types.WorkerKind]bool, len(s.PerWorker))
	for _, v := range views {
		if _, ok := s.PerWorker[v.Kind]; ok && !seen[v.Kind] {
			order = append(order, v.Kind)
			seen[v.Kind] = true
		}
	}
	var rest []types.WorkerKind
	for k := range s.PerWorker {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(order, rest...)
}

// collect runs the per-payload adapters over every recorded result.
// Degraded kinds keep their PerWorker entry but feed no section.
func collect(s types.AggregateSnapshot, order []types.WorkerKind) sectionData {
	d := sectionData{from: make(map[types.SectionName][]contribution)}
	for _, kind := range order {
		if _, degraded := s.Degraded[kind]; degraded {
			continue
		}
		r := s.PerWorker[kind]
		if r.Completeness.Rank() == 0 || r.Payload == nil {
			continue
		}
		c := contribution{kind: kind, result: r}
		switch p := r.Payload.(type) {
		case types.HotelPayload:
			d.hotels = append(d.hotels, p.Options...)
			d.from[types.SectionAccommodations] = append(d.from[types.SectionAccommodations], c)
		case types.ItineraryPayload:
			d.stops = append(d.stops, p.Stops...)
			d.from[types.SectionPointsOfInterest] = append(d.from[types.SectionPointsOfInterest], c)
			if len(p.Transport) > 0 {
				d.transport = append(d.transport, p.Transport...)
				d.from[types.SectionTransportation] = append(d.from[types.SectionTransportation], c)
			}
		case types.TransportPayload:
			d.transport = append(d.transport, p.Notes...)
			d.from[types.SectionTransportation] = append(d.from[types.SectionTransportation], c)
		}
	}
	return d
}

func section(name types.SectionName, s types.AggregateSnapshot, d sectionData, requested map[types.WorkerKind]bool, final bool) types.Section {
	sec := types.Section{Name: name}
	switch name {
	case types.SectionAccommodations:
		sec.Hotels = d.hotels
	case types.SectionPointsOfInterest:
		sec.Stops = d.stops
	case types.SectionTransportation:
		sec.Transport = d.transport
	}

	var expected []types.WorkerKind
	for _, k := range sectionSources[name] {
		if requested[k] {
			expected = append(expected, k)
		}
	}
	for _, c := range d.from[name] {
		if !containsKind(expected, c.kind) {
			expected = append(expected, c.kind)
		}
	}

	if len(expected) == 0 {
		sec.Status = types.SectionUnavailable
		sec.Message = msgNotRequested
		return sec
	}

	best := 0
	for _, c := range d.from[name] {
		if r := c.result.Completeness.Rank(); r > best {
			best = r
		}
	}

	var degraded []types.Degradation
	pending := false
	for _, k := range expected {
		if dg, ok := s.Degraded[k]; ok {
			degraded = append(degraded, dg)
			continue
		}
		if s.Completeness(k) != types.CompletenessComplete {
			pending = true
		}
	}

	// A section is degraded once every expected source is degraded, or at
	// finalization if any expected source is degraded and nothing else
	// completed it.
	switch {
	case len(degraded) > 0 && (len(degraded) == len(expected) || (final && best < 2)):
		sec.Status = types.SectionDegraded
		sec.Message = degradedMessage(degraded[0].Reason)
	case best == 2:
		sec.Status = types.SectionComplete
		if !hasItems(sec) {
			sec.Message = msgNoResults
		}
	case best == 1:
		sec.Status = types.SectionPreliminary
	case !pending && len(degraded) == 0:
		// every expected source completed without feeding this section
		sec.Status = types.SectionComplete
		sec.Message = msgNoResults
	default:
		sec.Status = types.SectionUnavailable
		sec.Message = msgWorking
	}
	return sec
}

func degradedMessage(reason types.ReasonCode) string {
	switch reason {
	case types.ReasonTimeout:
		return msgTimeout
	case types.ReasonCancelled:
		return msgCancelled
	default:
		return msgFailed
	}
}

func hasItems(s types.Section) bool {
	return len(s.Hotels) > 0 || len(s.Stops) > 0 || len(s.Transport) > 0
}

func containsKind(kinds []types.WorkerKind, k types.WorkerKind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
