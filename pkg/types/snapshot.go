package types

import (
	"sort"
	"time"
)

// SectionName identifies one of the three display sections.
type SectionName string

const (
	SectionAccommodations   SectionName = "accommodations"
	SectionPointsOfInterest SectionName = "points_of_interest"
	SectionTransportation   SectionName = "transportation"
)

// SectionStatus 顯示區塊狀態
type SectionStatus string

const (
	SectionUnavailable SectionStatus = "unavailable" // 尚無資料（或未請求該 worker）
	SectionPreliminary SectionStatus = "preliminary"
	SectionComplete    SectionStatus = "complete"
	SectionDegraded    SectionStatus = "degraded" // worker 失敗、逾時或被取消
)

// Section is one display-ready block of the answer. Exactly one of Hotels,
// Stops or Transport is populated, depending on Name.
type Section struct {
	Name      SectionName     `json:"name"`
	Status    SectionStatus   `json:"status"`
	Message   string          `json:"message,omitempty"`
	Hotels    []HotelOption   `json:"hotels,omitempty"`
	Stops     []ItineraryStop `json:"stops,omitempty"`
	Transport []TransportNote `json:"transport,omitempty"`
}

// Sections is the display view of a snapshot. All three sections are always
// present.
type Sections struct {
	Accommodations   Section `json:"accommodations"`
	PointsOfInterest Section `json:"points_of_interest"`
	Transportation   Section `json:"transportation"`
}

// All returns the sections in display order.
func (s Sections) All() []Section {
	return []Section{s.Accommodations, s.PointsOfInterest, s.Transportation}
}

// AggregateSnapshot is the merged state of one request at one point in time.
type AggregateSnapshot struct {
	RequestID   RequestID                    `json:"request_id"`
	Seq         uint64                       `json:"seq"`
	Stage       Stage                        `json:"stage"`
	PerWorker   map[WorkerKind]PartialResult `json:"per_worker"`
	Degraded    map[WorkerKind]Degradation   `json:"degraded_workers"`
	Sections    Sections                     `json:"sections"`
	GeneratedAt time.Time                    `json:"generated_at"`
}

// IsFinal reports whether this is the terminal snapshot of its request.
func (s AggregateSnapshot) IsFinal() bool { return s.Stage == StageFinal }

// Completeness returns the recorded completeness for kind.
func (s AggregateSnapshot) Completeness(kind WorkerKind) Completeness {
	if r, ok := s.PerWorker[kind]; ok {
		return r.Completeness
	}
	return CompletenessEmpty
}

// IsDegraded reports whether kind was recorded as degraded.
func (s AggregateSnapshot) IsDegraded(kind WorkerKind) bool {
	_, ok := s.Degraded[kind]
	return ok
}

// DegradedKinds returns the degraded worker kinds in sorted order.
func (s AggregateSnapshot) DegradedKinds() []WorkerKind {
	kinds := make([]WorkerKind, 0, len(s.Degraded))
	for k := range s.Degraded {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Clone copies the maps so the result can be modified without affecting s.
// PartialResult values are immutable and shared.
func (s AggregateSnapshot) Clone() AggregateSnapshot {
	out := s
	out.PerWorker = make(map[WorkerKind]PartialResult, len(s.PerWorker))
	for k, v := range s.PerWorker {
		out.PerWorker[k] = v
	}
	out.Degraded = make(map[WorkerKind]Degradation, len(s.Degraded))
	for k, v := range s.Degraded {
		out.Degraded[k] = v
	}
	return out
}
