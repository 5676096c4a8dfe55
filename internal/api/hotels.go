package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// Hotel is an accommodation as returned by the hotel search.
type Hotel struct {
	ID          string
	Name        string
	Address     string
	District    string
	County      string
	Type        string
	Rating      float64
	PriceMin    int
	PriceMax    int
	Facilities  []string
	Rooms       []Room
	Description string
	Location    *types.GeoPoint
}

// Room is a bookable room type or plan.
type Room struct {
	Name       string
	Capacity   int
	Price      int
	BedType    string
	Facilities []string
	Available  bool
}

// HotelQuery filters the hotel search.
type HotelQuery struct {
	County     string
	District   string
	HotelTypes []string
	Page       int
	PerPage    int
}

// flexID decodes an identifier sent as a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l *latLng) point() *types.GeoPoint {
	if l == nil || (l.Latitude == 0 && l.Longitude == 0) {
		return nil
	}
	return &types.GeoPoint{Lat: l.Latitude, Lng: l.Longitude}
}

type roomWire struct {
	Name       string   `json:"name"`
	PlanName   string   `json:"plan_name"`
	Capacity   int      `json:"capacity"`
	Price      float64  `json:"price"`
	BedType    string   `json:"bed_type"`
	Facilities []string `json:"facilities"`
	Available  *bool    `json:"available"`
}

func (w roomWire) room() Room {
	r := Room{
		Name:       w.Name,
		Capacity:   w.Capacity,
		Price:      int(w.Price),
		BedType:    w.BedType,
		Facilities: w.Facilities,
		Available:  w.Available == nil || *w.Available,
	}
	if r.Name == "" {
		r.Name = w.PlanName
	}
	return r
}

type hotelWire struct {
	ID         flexID  `json:"id"`
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	District   string  `json:"district"`
	County     string  `json:"county"`
	Type       string  `json:"type"`
	Rating     float64 `json:"rating"`
	PriceRange struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"price_range"`
	Facilities  []string   `json:"facilities"`
	RoomTypes   []roomWire `json:"room_types"`
	Description string     `json:"description"`
	Location    *latLng    `json:"location"`
}

func (w hotelWire) hotel() Hotel {
	h := Hotel{
		ID:          string(w.ID),
		Name:        w.Name,
		Address:     w.Address,
		District:    w.District,
		County:      w.County,
		Type:        w.Type,
		Rating:      w.Rating,
		PriceMin:    int(w.PriceRange.Min),
		PriceMax:    int(w.PriceRange.Max),
		Facilities:  w.Facilities,
		Description: w.Description,
		Location:    w.Location.point(),
	}
	for _, r := range w.RoomTypes {
		h.Rooms = append(h.Rooms, r.room())
	}
	return h
}

// SearchHotels lists hotels matching q.
func (c *Client) SearchHotels(ctx context.Context, q HotelQuery) ([]Hotel, error) {
	params := url.Values{}
	if q.County != "" {
		params.Set("county", q.County)
	}
	if q.District != "" {
		params.Set("district", q.District)
	}
	if len(q.HotelTypes) > 0 {
		params.Set("hotel_group_types", strings.Join(q.HotelTypes, ","))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}

	raw, err := c.Get(ctx, PathHotels, params)
	if err != nil {
		return nil, err
	}
	items, err := listOf(raw, "hotels")
	if err != nil {
		return nil, fmt.Errorf("hotels: %w", err)
	}

	hotels := make([]Hotel, 0, len(items))
	for _, item := range items {
		var w hotelWire
		if err := json.Unmarshal(item, &w); err != nil {
			slog.Warn("Skipping malformed hotel", "error", err)
			continue
		}
		hotels = append(hotels, w.hotel())
	}
	return hotels, nil
}

// HotelPlans lists the bookable plans of one hotel from checkIn on.
func (c *Client) HotelPlans(ctx context.Context, hotelID string, checkIn types.Date) ([]Room, error) {
	params := url.Values{}
	params.Set("hotel_id", hotelID)
	if !checkIn.IsZero() {
		params.Set("check_in_start_at", checkIn.String())
	}

	raw, err := c.Get(ctx, PathPlans, params)
	if err != nil {
		return nil, err
	}
	items, err := listOf(raw, "plans")
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}

	rooms := make([]Room, 0, len(items))
	for _, item := range items {
		var w roomWire
		if err := json.Unmarshal(item, &w); err != nil {
			slog.Warn("Skipping malformed plan", "hotel", hotelID, "error", err)
			continue
		}
		rooms = append(rooms, w.room())
	}
	return rooms, nil
}
