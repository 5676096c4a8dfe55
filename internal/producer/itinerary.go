package producer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ChuLiYu/trip-planner/internal/api"
	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// PlaceSource searches points of interest.
type PlaceSource interface {
	NearbyPlaces(ctx context.Context, q api.NearbyQuery) ([]api.Place, error)
}

// Transport modes between consecutive stops.
const (
	ModeWalk    = "步行"
	ModeTransit = "公共交通"
	ModeTaxi    = "計程車"
)

const (
	walkLimitKm    = 1.0
	transitLimitKm = 10.0
	hoursPerDay    = 8.0
	defaultVisit   = 2.0 // hours, when the source gives none
	startLabel     = "市中心"
)

// interestKeywords maps a preference word to the place words it selects.
var interestKeywords = map[string][]string{
	"美食":       {"夜市", "餐廳", "小吃"},
	"food":     {"夜市", "餐廳", "小吃"},
	"購物":       {"購物", "夜市", "商場"},
	"shopping": {"購物", "夜市", "商場"},
	"歷史":       {"博物館", "古蹟", "歷史"},
	"history":  {"博物館", "古蹟", "歷史"},
	"文化":       {"博物館", "廟宇", "文化"},
	"culture":  {"博物館", "廟宇", "文化"},
	"自然":       {"自然", "公園", "山", "步道"},
	"nature":   {"自然", "公園", "山", "步道"},
	"藝術":       {"博物館", "藝術", "展覽"},
	"art":      {"博物館", "藝術", "展覽"},
}

// Itinerary plans day-by-day stops around the destination and the legs
// between them. The ranked attraction list is reported as a Preliminary
// result before the schedule and transport legs are worked out.
type Itinerary struct {
	src    PlaceSource
	radius int
}

var _ worker.ProgressiveProducer = (*Itinerary)(nil)

// NewItinerary creates the itinerary producer. radius is the search radius in
// meters around the destination center.
func NewItinerary(src PlaceSource, radius int) *Itinerary {
	return &Itinerary{src: src, radius: radius}
}

// Produce runs without interim reports.
func (it *Itinerary) Produce(ctx context.Context, req types.Request) (types.PartialResult, error) {
	return it.ProduceProgressive(ctx, req, nil)
}

// ProduceProgressive searches attractions, filters them by the request's
// interests and schedules them over nights+1 days.
func (it *Itinerary) ProduceProgressive(ctx context.Context, req types.Request, report worker.ReportFunc) (types.PartialResult, error) {
	q := api.NearbyQuery{TextQuery: "景點", Radius: it.radius}
	var start *types.GeoPoint
	if city, ok := api.LookupCity(req.Destination); ok {
		center := city.Center
		start = &center
		q.Location = start
	} else {
		q.TextQuery = req.Destination + " 景點"
	}

	places, err := it.src.NearbyPlaces(ctx, q)
	if err != nil {
		return types.PartialResult{}, fmt.Errorf("nearby search: %w", err)
	}

	ranked := rankPlaces(filterByInterests(places, req.Preferences))
	days := req.Dates.Nights() + 1

	if report != nil && len(ranked) > 0 {
		preview := ranked
		if len(preview) > days {
			preview = preview[:days]
		}
		stops := make([]types.ItineraryStop, 0, len(preview))
		for i, p := range preview {
			stops = append(stops, stopOf(p, i+1, 1))
		}
		report(types.PartialResult{
			Completeness: types.CompletenessPreliminary,
			Payload:      types.ItineraryPayload{Stops: stops},
		})
	}

	stops := schedule(ranked, days, start)
	return types.PartialResult{
		Completeness: types.CompletenessComplete,
		Payload: types.ItineraryPayload{
			Stops:     stops,
			Transport: legs(stops, start),
		},
	}, nil
}

// filterByInterests keeps places matching the interests named in prefs. When
// nothing matches, or prefs names no interest, every place is kept.
func filterByInterests(places []api.Place, prefs string) []api.Place {
	prefs = strings.ToLower(prefs)
	var words []string
	for interest, kw := range interestKeywords {
		if strings.Contains(prefs, interest) {
			words = append(words, kw...)
		}
	}
	if len(words) == 0 {
		return places
	}

	var out []api.Place
	for _, p := range places {
		for _, w := range words {
			if strings.Contains(p.Type, w) || strings.Contains(p.Description, w) {
				out = append(out, p)
				break
			}
		}
	}
	if len(out) == 0 {
		return places
	}
	return out
}

func rankPlaces(places []api.Place) []api.Place {
	out := append([]api.Place(nil), places...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// schedule fills each day with up to hoursPerDay of visits in rank order,
// then orders each day's stops by nearest neighbour from start.
func schedule(ranked []api.Place, days int, start *types.GeoPoint) []types.ItineraryStop {
	byDay := make([][]api.Place, days)
	day, used := 0, 0.0
	for _, p := range ranked {
		h := visitHours(p)
		if used > 0 && used+h > hoursPerDay {
			day, used = day+1, 0
		}
		if day >= days {
			break
		}
		byDay[day] = append(byDay[day], p)
		used += h
	}

	var stops []types.ItineraryStop
	for d, places := range byDay {
		for i, p := range nearestNeighbour(places, start) {
			stops = append(stops, stopOf(p, d+1, i+1))
		}
	}
	return stops
}

func visitHours(p api.Place) float64 {
	if p.RecommendedHours > 0 {
		return p.RecommendedHours
	}
	return defaultVisit
}

func nearestNeighbour(places []api.Place, start *types.GeoPoint) []api.Place {
	if start == nil || len(places) < 2 {
		return places
	}
	left := append([]api.Place(nil), places...)
	out := make([]api.Place, 0, len(places))
	cur := *start
	for len(left) > 0 {
		best, bestDist := 0, math.Inf(1)
		for i, p := range left {
			if p.Location == nil {
				continue
			}
			if d := cur.DistanceKm(*p.Location); d < bestDist {
				best, bestDist = i, d
			}
		}
		p := left[best]
		out = append(out, p)
		left = append(left[:best], left[best+1:]...)
		if p.Location != nil {
			cur = *p.Location
		}
	}
	return out
}

func stopOf(p api.Place, day, order int) types.ItineraryStop {
	return types.ItineraryStop{
		Day:           day,
		Order:         order,
		Name:          p.Name,
		Address:       p.Address,
		Category:      p.Type,
		Description:   p.Description,
		Rating:        p.Rating,
		DurationHours: visitHours(p),
		Location:      p.Location,
	}
}

// legs suggests how to reach each stop from the previous one on the same
// day, the first stop of a day starting from start.
func legs(stops []types.ItineraryStop, start *types.GeoPoint) []types.TransportNote {
	var notes []types.TransportNote
	for i, s := range stops {
		fromName, from := startLabel, start
		if i > 0 && stops[i-1].Day == s.Day {
			fromName, from = stops[i-1].Name, stops[i-1].Location
		}
		if from == nil || s.Location == nil {
			continue
		}
		notes = append(notes, leg(fromName, s.Name, from.DistanceKm(*s.Location)))
	}
	return notes
}

// leg picks the mode by distance: walk under 1 km, public transit under
// 10 km, taxi beyond.
func leg(from, to string, km float64) types.TransportNote {
	n := types.TransportNote{From: from, To: to, DistanceKm: math.Round(km*10) / 10}
	switch {
	case km < walkLimitKm:
		n.Mode = ModeWalk
		n.Description = fmt.Sprintf("從%s步行前往%s，距離約%.1f公里，約需%d分鐘。", from, to, km, minutes(km, 4.5, 0))
	case km < transitLimitKm:
		n.Mode = ModeTransit
		n.Description = fmt.Sprintf("從%s搭乘捷運/公車前往%s，距離約%.1f公里，約需%d分鐘。", from, to, km, minutes(km, 20, 10))
	default:
		n.Mode = ModeTaxi
		n.Description = fmt.Sprintf("從%s搭乘計程車前往%s，距離約%.1f公里，約需%d分鐘，費用約NT$%d。", from, to, km, minutes(km, 35, 5), taxiFare(km))
	}
	return n
}

func minutes(km, kmh float64, overhead int) int {
	return int(math.Ceil(km/kmh*60)) + overhead
}

// taxiFare uses the Taipei meter: NT$85 for the first 1.25 km, NT$5 per
// further 200 m.
func taxiFare(km float64) int {
	extra := math.Max(0, km-1.25)
	return 85 + int(math.Ceil(extra/0.2))*5
}
