package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// Place is a point of interest returned by the nearby search.
type Place struct {
	ID               string
	Name             string
	Address          string
	District         string
	Type             string
	Rating           float64
	Description      string
	RecommendedHours float64
	AdmissionFee     int
	Location         *types.GeoPoint
}

// NearbyQuery is a text search around a location.
type NearbyQuery struct {
	TextQuery string
	Location  *types.GeoPoint
	Radius    int // meters
}

type nearbyRequest struct {
	TextQuery string `json:"text_query"`
	Radius    int    `json:"radius"`
	Location  string `json:"location,omitempty"`
}

type placeWire struct {
	ID          flexID `json:"id"`
	Name        string `json:"name"`
	DisplayName *struct {
		Text string `json:"text"`
	} `json:"displayName"`
	Address          string   `json:"address"`
	FormattedAddress string   `json:"formattedAddress"`
	District         string   `json:"district"`
	Type             string   `json:"type"`
	PrimaryType      string   `json:"primaryType"`
	Rating           float64  `json:"rating"`
	Description      string   `json:"description"`
	RecommendedTime  float64  `json:"recommended_time"`
	AdmissionFee     float64  `json:"admission_fee"`
	Location         *latLng  `json:"location"`
	Types            []string `json:"types"`
}

func (w placeWire) place() Place {
	p := Place{
		ID:               string(w.ID),
		Name:             w.Name,
		Address:          w.Address,
		District:         w.District,
		Type:             w.Type,
		Rating:           w.Rating,
		Description:      w.Description,
		RecommendedHours: w.RecommendedTime,
		AdmissionFee:     int(w.AdmissionFee),
		Location:         w.Location.point(),
	}
	if p.Name == "" && w.DisplayName != nil {
		p.Name = w.DisplayName.Text
	}
	if p.Name == "" {
		p.Name = "未知地點"
	}
	if p.Address == "" {
		p.Address = w.FormattedAddress
	}
	if p.Type == "" {
		p.Type = w.PrimaryType
	}
	if p.Type == "" && len(w.Types) > 0 {
		p.Type = w.Types[0]
	}
	return p
}

// NearbyPlaces runs a text search around q.Location.
func (c *Client) NearbyPlaces(ctx context.Context, q NearbyQuery) ([]Place, error) {
	body := nearbyRequest{TextQuery: q.TextQuery, Radius: q.Radius}
	if body.Radius <= 0 {
		body.Radius = 1000
	}
	if q.Location != nil {
		body.Location = q.Location.String()
	}

	raw, err := c.Post(ctx, PathNearbySearch, body)
	if err != nil {
		return nil, err
	}
	items, err := listOf(raw, "places")
	if err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	places := make([]Place, 0, len(items))
	for _, item := range items {
		var w placeWire
		if err := json.Unmarshal(item, &w); err != nil {
			slog.Warn("Skipping malformed place", "error", err)
			continue
		}
		places = append(places, w.place())
	}
	return places, nil
}
