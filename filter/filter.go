// Package filter holds the calendar-query filter tree and its evaluator.
//
// The tree mirrors the <C:filter> grammar of RFC 4791 one to one so request
// decoders can build it without an intermediate form.
package filter

import (
	"time"

	"github.com/cyp0633/calengine/recurrence"
	"github.com/samber/mo"
)

// Collations accepted in text-match.
const (
	CollationASCIICasemap   = "i;ascii-casemap"
	CollationOctet          = "i;octet"
	CollationUnicodeCasemap = "i;unicode-casemap"
)

// MatchType selects how a text-match compares values.
type MatchType string

const (
	MatchEquals     MatchType = "equals"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts-with"
	MatchEndsWith   MatchType = "ends-with"
)

// Node is one of CompFilter, PropFilter or TimeRange. The set is closed.
type Node interface {
	node()
}

// CompFilter describes a <comp-filter>.
type CompFilter struct {
	Name         string
	IsNotDefined bool
	TimeRange    *TimeRange
	PropFilters  []PropFilter
	CompFilters  []CompFilter
}

// PropFilter describes a <prop-filter>.
type PropFilter struct {
	Name         string
	IsNotDefined bool
	TimeRange    *TimeRange
	TextMatch    *TextMatch
	ParamFilters []ParamFilter
}

// ParamFilter describes a <param-filter> inside a prop-filter.
type ParamFilter struct {
	Name         string
	IsNotDefined bool
	TextMatch    *TextMatch
}

// TextMatch describes a <text-match> constraint.
type TextMatch struct {
	Collation string
	MatchType MatchType
	Negate    bool
	Value     string
}

// TimeRange describes a <time-range>. At least one bound must be present.
type TimeRange struct {
	Start mo.Option[time.Time]
	End   mo.Option[time.Time]
}

func (CompFilter) node() {}
func (PropFilter) node() {}
func (TimeRange) node()  {}

// Children returns the nested nodes of f: its time-range, prop-filters and
// comp-filters, in that order.
func (f CompFilter) Children() []Node {
	nodes := make([]Node, 0, 1+len(f.PropFilters)+len(f.CompFilters))
	if f.TimeRange != nil {
		nodes = append(nodes, *f.TimeRange)
	}
	for _, p := range f.PropFilters {
		nodes = append(nodes, p)
	}
	for _, c := range f.CompFilters {
		nodes = append(nodes, c)
	}
	return nodes
}

// Range builds a TimeRange; a zero bound is left open.
func Range(start, end time.Time) *TimeRange {
	tr := &TimeRange{Start: mo.None[time.Time](), End: mo.None[time.Time]()}
	if !start.IsZero() {
		tr.Start = mo.Some(start.UTC())
	}
	if !end.IsZero() {
		tr.End = mo.Some(end.UTC())
	}
	return tr
}

// Window converts the range to an expansion window.
func (tr TimeRange) Window() recurrence.Window {
	return recurrence.Window{Start: tr.Start.OrEmpty(), End: tr.End.OrEmpty()}
}

// Contains reports whether the instant t satisfies start <= t < end.
func (tr TimeRange) Contains(t time.Time) bool {
	if s, ok := tr.Start.Get(); ok && t.Before(s) {
		return false
	}
	if e, ok := tr.End.Get(); ok && !t.Before(e) {
		return false
	}
	return true
}

// Overlaps applies half-open overlap to [start, end); a zero-length span is
// tested with Contains.
func (tr TimeRange) Overlaps(start, end time.Time) bool {
	if !end.After(start) {
		return tr.Contains(start)
	}
	if s, ok := tr.Start.Get(); ok && !end.After(s) {
		return false
	}
	if e, ok := tr.End.Get(); ok && !start.Before(e) {
		return false
	}
	return true
}

// VCalendarEvents returns the common "VCALENDAR > VEVENT with time-range"
// filter used by free-busy queries.
func VCalendarEvents(start, end time.Time) CompFilter {
	return CompFilter{
		Name: "VCALENDAR",
		CompFilters: []CompFilter{{
			Name:      "VEVENT",
			TimeRange: Range(start, end),
		}},
	}
}
