package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RoomPlan is a bookable room offered by a hotel.
type RoomPlan struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Price    int    `json:"price"`
	BedType  string `json:"bed_type,omitempty"`
}

// HotelOption is one recommended accommodation.
type HotelOption struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address,omitempty"`
	District   string    `json:"district,omitempty"`
	Type       string    `json:"type,omitempty"`
	Rating     float64   `json:"rating,omitempty"`
	PriceMin   int       `json:"price_min,omitempty"`
	PriceMax   int       `json:"price_max,omitempty"`
	Facilities []string  `json:"facilities,omitempty"`
	Room       *RoomPlan `json:"room,omitempty"`
	Location   *GeoPoint `json:"location,omitempty"`
}

// ItineraryStop is a place visited on a given day of the trip.
type ItineraryStop struct {
	Day           int       `json:"day"`
	Order         int       `json:"order"`
	Name          string    `json:"name"`
	Address       string    `json:"address,omitempty"`
	Category      string    `json:"category,omitempty"`
	Description   string    `json:"description,omitempty"`
	Rating        float64   `json:"rating,omitempty"`
	DurationHours float64   `json:"duration_hours,omitempty"`
	Location      *GeoPoint `json:"location,omitempty"`
}

// TransportNote suggests how to get from one place to the next.
type TransportNote struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Mode        string  `json:"mode"`
	DistanceKm  float64 `json:"distance_km,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Payload is the kind-specific body of a PartialResult. The set of variants
// is closed: HotelPayload, ItineraryPayload and TransportPayload.
type Payload interface {
	payloadType() string
}

// HotelPayload carries accommodation options.
type HotelPayload struct {
	Options []HotelOption `json:"options"`
}

// ItineraryPayload carries day-by-day stops and the legs between them.
type ItineraryPayload struct {
	Stops     []ItineraryStop `json:"stops"`
	Transport []TransportNote `json:"transport,omitempty"`
}

// TransportPayload carries stand-alone transportation advice.
type TransportPayload struct {
	Notes []TransportNote `json:"notes"`
}

func (HotelPayload) payloadType() string     { return "hotel" }
func (ItineraryPayload) payloadType() string { return "itinerary" }
func (TransportPayload) payloadType() string { return "transport" }

// PartialResult is what one worker knows at one point in time. Values are
// never mutated after creation; newer information produces a new value.
type PartialResult struct {
	Kind         WorkerKind
	Completeness Completeness
	Payload      Payload
	GeneratedAt  time.Time
}

// EmptyResult is the placeholder for a worker that has reported nothing.
func EmptyResult(kind WorkerKind) PartialResult {
	return PartialResult{Kind: kind, Completeness: CompletenessEmpty}
}

type partialResultJSON struct {
	Kind         WorkerKind      `json:"kind"`
	Completeness Completeness    `json:"completeness"`
	PayloadType  string          `json:"payload_type,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	GeneratedAt  *time.Time      `json:"generated_at,omitempty"`
}

func (r PartialResult) MarshalJSON() ([]byte, error) {
	out := partialResultJSON{Kind: r.Kind, Completeness: r.Completeness}
	if !r.GeneratedAt.IsZero() {
		at := r.GeneratedAt
		out.GeneratedAt = &at
	}
	if r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", r.Kind, err)
		}
		out.PayloadType = r.Payload.payloadType()
		out.Payload = raw
	}
	return json.Marshal(out)
}

func (r *PartialResult) UnmarshalJSON(b []byte) error {
	var in partialResultJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = PartialResult{Kind: in.Kind, Completeness: in.Completeness}
	if in.GeneratedAt != nil {
		r.GeneratedAt = *in.GeneratedAt
	}
	if len(in.Payload) == 0 || in.PayloadType == "" {
		return nil
	}

	var err error
	switch in.PayloadType {
	case "hotel":
		var p HotelPayload
		err = json.Unmarshal(in.Payload, &p)
		r.Payload = p
	case "itinerary":
		var p ItineraryPayload
		err = json.Unmarshal(in.Payload, &p)
		r.Payload = p
	case "transport":
		var p TransportPayload
		err = json.Unmarshal(in.Payload, &p)
		r.Payload = p
	default:
		return fmt.Errorf("unknown payload type %q", in.PayloadType)
	}
	return err
}
