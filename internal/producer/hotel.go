// Package producer implements the worker producers of the trip planner:
// hotel recommendations, day-by-day itineraries and transport advice.
// Producers read from a HotelSource / PlaceSource, backed either by the
// upstream API client or by the offline catalog.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ChuLiYu/trip-planner/internal/api"
	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// HotelSource searches accommodations.
type HotelSource interface {
	SearchHotels(ctx context.Context, q api.HotelQuery) ([]api.Hotel, error)
	HotelPlans(ctx context.Context, hotelID string, checkIn types.Date) ([]api.Room, error)
}

// DefaultHotelLimit is the number of hotels recommended.
const DefaultHotelLimit = 3

// Hotels recommends accommodations. It reports the filtered shortlist as a
// Preliminary result, then enriches each option with a bookable room.
type Hotels struct {
	src   HotelSource
	limit int
}

var _ worker.ProgressiveProducer = (*Hotels)(nil)

// NewHotels creates the hotel producer.
func NewHotels(src HotelSource) *Hotels {
	return &Hotels{src: src, limit: DefaultHotelLimit}
}

// Produce runs without interim reports.
func (h *Hotels) Produce(ctx context.Context, req types.Request) (types.PartialResult, error) {
	return h.ProduceProgressive(ctx, req, nil)
}

// ProduceProgressive searches, filters by party and budget, reports the
// shortlist and returns it enriched with room plans.
func (h *Hotels) ProduceProgressive(ctx context.Context, req types.Request, report worker.ReportFunc) (types.PartialResult, error) {
	q := api.HotelQuery{}
	if city, ok := api.LookupCity(req.Destination); ok {
		q.County = city.County
	}

	found, err := h.src.SearchHotels(ctx, q)
	if err != nil {
		return types.PartialResult{}, fmt.Errorf("search hotels: %w", err)
	}

	shortlist := shortlistHotels(found, req, h.limit)
	slog.Debug("Hotel shortlist", "request", req.ID, "found", len(found), "kept", len(shortlist))

	if report != nil && len(shortlist) > 0 {
		options := make([]types.HotelOption, 0, len(shortlist))
		for _, hotel := range shortlist {
			options = append(options, hotelOption(hotel, nil))
		}
		report(types.PartialResult{
			Completeness: types.CompletenessPreliminary,
			Payload:      types.HotelPayload{Options: options},
		})
	}

	options := make([]types.HotelOption, 0, len(shortlist))
	for _, hotel := range shortlist {
		rooms, err := h.src.HotelPlans(ctx, hotel.ID, req.Dates.CheckIn)
		if err != nil {
			if ctx.Err() != nil {
				return types.PartialResult{}, fmt.Errorf("room plans for %s: %w", hotel.ID, err)
			}
			slog.Warn("Room plans unavailable, using listed rooms", "hotel", hotel.ID, "error", err)
			rooms = hotel.Rooms
		}
		if len(rooms) == 0 {
			rooms = hotel.Rooms
		}
		options = append(options, hotelOption(hotel, pickRoom(rooms, req.Party, req.Budget)))
	}

	return types.PartialResult{
		Completeness: types.CompletenessComplete,
		Payload:      types.HotelPayload{Options: options},
	}, nil
}

// shortlistHotels keeps hotels that fit the party and overlap the budget,
// best rated first.
func shortlistHotels(hotels []api.Hotel, req types.Request, limit int) []api.Hotel {
	var out []api.Hotel
	for _, h := range hotels {
		if fitsParty(h.Rooms, req.Party) && overlapsBudget(h, req.Budget) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fitsParty reports whether one room takes the whole party. Hotels without
// room data are kept.
func fitsParty(rooms []api.Room, p types.Party) bool {
	if len(rooms) == 0 {
		return true
	}
	for _, r := range rooms {
		if r.Capacity >= p.Size() {
			return true
		}
	}
	return false
}

// overlapsBudget compares the nightly price range with the budget. A zero
// budget maximum means no upper limit.
func overlapsBudget(h api.Hotel, b types.Budget) bool {
	if h.PriceMin == 0 && h.PriceMax == 0 {
		return true
	}
	if !b.Unbounded() && h.PriceMin > b.Max {
		return false
	}
	return h.PriceMax == 0 || h.PriceMax >= b.Min
}

// pickRoom returns the cheapest available room that takes the party within
// budget, or the cheapest that takes the party.
func pickRoom(rooms []api.Room, p types.Party, b types.Budget) *types.RoomPlan {
	var best, fallback *api.Room
	for i := range rooms {
		r := &rooms[i]
		if !r.Available || r.Capacity < p.Size() {
			continue
		}
		if fallback == nil || r.Price < fallback.Price {
			fallback = r
		}
		if b.Contains(r.Price) {
			if best == nil || r.Price < best.Price {
				best = r
			}
		}
	}
	if best == nil {
		best = fallback
	}
	if best == nil {
		return nil
	}
	return &types.RoomPlan{Name: best.Name, Capacity: best.Capacity, Price: best.Price, BedType: best.BedType}
}

func hotelOption(h api.Hotel, room *types.RoomPlan) types.HotelOption {
	return types.HotelOption{
		ID:         h.ID,
		Name:       h.Name,
		Address:    h.Address,
		District:   h.District,
		Type:       h.Type,
		Rating:     h.Rating,
		PriceMin:   h.PriceMin,
		PriceMax:   h.PriceMax,
		Facilities: h.Facilities,
		Room:       room,
		Location:   h.Location,
	}
}
