// Package render turns a snapshot into the plain-text reply shown by the CLI.
//
// The same function renders every stage:
//
//	quick_ack  → acknowledgement only, sections still working
//	partial    → every section with what is known so far
//	final      → the complete answer, degraded sections marked
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// Headlines per stage.
const (
	Acknowledged = "我已收到您的查詢，正在為您準備回應..."
	InProgress   = "以下是目前的初步建議，仍在持續更新中："
	Complete     = "以下是為您整理的完整旅遊建議："
	Incomplete   = "部分資訊未能及時取得，以下是目前可提供的建議："
)

var sectionTitles = map[types.SectionName]string{
	types.SectionAccommodations:   "住宿推薦",
	types.SectionPointsOfInterest: "景點行程",
	types.SectionTransportation:   "交通建議",
}

// Text renders s as a string.
func Text(s types.AggregateSnapshot) string {
	var b strings.Builder
	_ = Write(&b, s)
	return b.String()
}

// Write renders s to w.
func Write(w io.Writer, s types.AggregateSnapshot) error {
	p := &printer{w: w}
	p.line(headline(s))

	if s.Stage == types.StageQuickAck && !anyData(s) {
		return p.err
	}

	for _, sec := range s.Sections.All() {
		p.line("")
		p.section(sec)
	}
	return p.err
}

func headline(s types.AggregateSnapshot) string {
	switch {
	case s.IsFinal() && len(s.Degraded) > 0:
		return Incomplete
	case s.IsFinal():
		return Complete
	case anyData(s):
		return InProgress
	default:
		return Acknowledged
	}
}

func anyData(s types.AggregateSnapshot) bool {
	for _, sec := range s.Sections.All() {
		if sec.Status == types.SectionPreliminary || sec.Status == types.SectionComplete {
			return true
		}
	}
	return false
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	if len(args) == 0 {
		_, p.err = io.WriteString(p.w, format+"\n")
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) section(sec types.Section) {
	title := sectionTitles[sec.Name]
	switch sec.Status {
	case types.SectionPreliminary:
		title += "（初步）"
	case types.SectionDegraded:
		title += "（未完成）"
	}
	p.line("## %s", title)

	if sec.Status == types.SectionDegraded {
		p.line("⚠ %s", sec.Message)
	}
	if !hasItems(sec) {
		if sec.Status != types.SectionDegraded && sec.Message != "" {
			p.line("%s", sec.Message)
		}
		return
	}

	switch sec.Name {
	case types.SectionAccommodations:
		p.hotels(sec.Hotels)
	case types.SectionPointsOfInterest:
		p.stops(sec.Stops)
	case types.SectionTransportation:
		p.transport(sec.Transport)
	}
}

func (p *printer) hotels(options []types.HotelOption) {
	for i, h := range options {
		p.line("%d. %s%s", i+1, h.Name, hotelMeta(h))
		if h.Address != "" {
			p.line("   地址：%s", h.Address)
		}
		if h.Room != nil {
			p.line("   房型：%s（%d人）NT$%d / 晚", h.Room.Name, h.Room.Capacity, h.Room.Price)
		}
		if len(h.Facilities) > 0 {
			p.line("   設施：%s", strings.Join(h.Facilities, "、"))
		}
	}
}

func hotelMeta(h types.HotelOption) string {
	var parts []string
	if h.Type != "" {
		parts = append(parts, h.Type)
	}
	if h.Rating > 0 {
		parts = append(parts, fmt.Sprintf("評分 %.1f", h.Rating))
	}
	if h.PriceMin > 0 || h.PriceMax > 0 {
		parts = append(parts, fmt.Sprintf("NT$%d-%d", h.PriceMin, h.PriceMax))
	}
	if len(parts) == 0 {
		return ""
	}
	return "（" + strings.Join(parts, "，") + "）"
}

func (p *printer) stops(stops []types.ItineraryStop) {
	day := 0
	for _, s := range stops {
		if s.Day != day {
			day = s.Day
			p.line("第 %d 天", day)
		}
		line := fmt.Sprintf("  %d. %s", s.Order, s.Name)
		if s.DurationHours > 0 {
			line += fmt.Sprintf("（建議停留 %g 小時）", s.DurationHours)
		}
		p.line("%s", line)
		if s.Description != "" {
			p.line("     %s", s.Description)
		}
	}
}

func (p *printer) transport(notes []types.TransportNote) {
	for _, n := range notes {
		if n.Description != "" {
			p.line("- %s", n.Description)
			continue
		}
		p.line("- %s → %s：%s", n.From, n.To, n.Mode)
	}
}

func hasItems(s types.Section) bool {
	return len(s.Hotels) > 0 || len(s.Stops) > 0 || len(s.Transport) > 0
}
