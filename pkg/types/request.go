package types

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time of day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

// AddDays returns the day n days after d.
func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange is a stay from check-in to check-out.
type DateRange struct {
	CheckIn  Date `json:"check_in" yaml:"check_in"`
	CheckOut Date `json:"check_out" yaml:"check_out"`
}

// Nights is the number of nights in the stay.
func (r DateRange) Nights() int {
	return int(r.CheckOut.Time().Sub(r.CheckIn.Time()).Hours() / 24)
}

// Party is the group travelling together.
type Party struct {
	Adults   int `json:"adults" yaml:"adults"`
	Children int `json:"children" yaml:"children"`
}

// Size is the total head count.
func (p Party) Size() int { return p.Adults + p.Children }

// Budget is a nightly price range in the destination currency.
type Budget struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Unbounded reports whether the budget has no upper limit (Max == 0).
func (b Budget) Unbounded() bool { return b.Max == 0 }

// Contains reports whether price falls inside the range.
func (b Budget) Contains(price int) bool {
	return price >= b.Min && (b.Unbounded() || price <= b.Max)
}

// Request is a normalized travel query. It is treated as immutable once the
// coordinator accepts it.
type Request struct {
	ID          RequestID `json:"id,omitempty" yaml:"id,omitempty"`
	Destination string    `json:"destination" yaml:"destination"`
	Dates       DateRange `json:"dates" yaml:"dates"`
	Party       Party     `json:"party" yaml:"party"`
	Budget      Budget    `json:"budget" yaml:"budget"`
	Preferences string    `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// FieldError is one rejected field of a Request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a Request before any worker is dispatched.
type ValidationError struct {
	Problems []FieldError `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Normalized returns a copy with surrounding whitespace trimmed.
func (r Request) Normalized() Request {
	r.Destination = strings.TrimSpace(r.Destination)
	r.Preferences = strings.TrimSpace(r.Preferences)
	return r
}

// Validate checks the request against today's date. It returns a
// *ValidationError listing every problem, or nil.
func (r Request) Validate(today Date) error {
	var problems []FieldError
	add := func(field, msg string) {
		problems = append(problems, FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(r.Destination) == "" {
		add("destination", "is required")
	}

	switch {
	case r.Dates.CheckIn.IsZero():
		add("dates.check_in", "is required")
	case r.Dates.CheckIn.Before(today):
		add("dates.check_in", fmt.Sprintf("%s is in the past", r.Dates.CheckIn))
	}
	switch {
	case r.Dates.CheckOut.IsZero():
		add("dates.check_out", "is required")
	case !r.Dates.CheckIn.IsZero() && !r.Dates.CheckIn.Before(r.Dates.CheckOut):
		add("dates.check_out", "must be after check-in")
	}

	if r.Party.Adults < 1 {
		add("party.adults", "at least one adult is required")
	}
	if r.Party.Children < 0 {
		add("party.children", "must not be negative")
	}

	if r.Budget.Min < 0 {
		add("budget.min", "must not be negative")
	}
	if r.Budget.Max < 0 {
		add("budget.max", "must not be negative")
	}
	if !r.Budget.Unbounded() && r.Budget.Min > r.Budget.Max {
		add("budget", "min must not exceed max")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
