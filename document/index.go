package document

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
)

// MaxDate stands in for the last occurrence of an unbounded series.
var MaxDate = time.Date(2038, 1, 1, 0, 0, 0, 0, time.UTC)

// Index holds the values a store keeps next to the raw bytes so it can
// narrow calendar-query candidates before full evaluation.
type Index struct {
	ComponentType string
	UID           string
	// FirstOccurrence and LastOccurrence are zero when the object has no
	// usable start.
	FirstOccurrence time.Time
	LastOccurrence  time.Time
	// Floating is set when a date of the object is floating or a DATE, so
	// the bounds above hold only for the zone they were computed in.
	Floating       bool
	Classification string
	ETag            string
	Size            int
}

// FloatingSkew is the most a floating instant moves between two zones,
// from UTC-12:00 to UTC+14:00.
const FloatingSkew = 26 * time.Hour

// floatingProps are the properties whose values place a component in time.
var floatingProps = []string{
	ical.PropDateTimeStart, ical.PropDateTimeEnd, ical.PropDue,
	ical.PropRecurrenceID, ical.PropRecurrenceDates, ical.PropExceptionDates,
}

// ETag returns the quoted md5 of raw.
func ETag(raw []byte) string {
	sum := md5.Sum(raw)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// Denormalize computes the Index of a parsed object from its stored bytes.
func Denormalize(raw []byte, d *Document, c *Context, maxIterations int) Index {
	idx := Index{
		ComponentType: d.ComponentType(),
		UID:           d.UID(),
		ETag:          ETag(raw),
		Size:          len(raw),
	}

	idx.Floating = hasFloating(d)
	for _, s := range d.Series() {
		if s.Master != nil && idx.Classification == "" {
			idx.Classification = strings.ToUpper(PropText(s.Master, "CLASS"))
		}
		first, last, ok := c.bounds(s, maxIterations)
		if !ok {
			continue
		}
		if idx.FirstOccurrence.IsZero() || first.Before(idx.FirstOccurrence) {
			idx.FirstOccurrence = first
		}
		if last.After(idx.LastOccurrence) {
			idx.LastOccurrence = last
		}
	}
	return idx
}

func (c *Context) bounds(s *Series, maxIterations int) (time.Time, time.Time, bool) {
	var first, last time.Time
	found := false
	consider := func(start, end time.Time) {
		if !found || start.Before(first) {
			first = start
		}
		if !found || end.After(last) {
			last = end
		}
		found = true
	}

	if s.Master != nil && IsRecurring(s.Master) && unbounded(s.Master) {
		if span, ok := c.Span(s.Master); ok {
			consider(span.Start, MaxDate)
		}
	}
	if found {
		for _, o := range s.Overrides {
			if span, ok := c.Span(o); ok {
				consider(span.Start, span.End)
			}
		}
		return first, last, true
	}

	instances, aborted := c.Instances(s, recurrence.Window{End: MaxDate}, maxIterations)
	for _, in := range instances {
		consider(in.Start, in.End)
	}
	if aborted && found {
		last = MaxDate
	}
	return first, last, found
}

// unbounded reports whether any RRULE of comp lacks both COUNT and UNTIL.
func unbounded(comp *ical.Component) bool {
	for _, r := range RecurrenceRules(comp) {
		upper := strings.ToUpper(r)
		if !strings.Contains(upper, "COUNT=") && !strings.Contains(upper, "UNTIL=") {
			return true
		}
	}
	return false
}

// hasFloating reports whether any top-level component carries a floating
// or DATE value.
func hasFloating(d *Document) bool {
	for _, comp := range d.Components() {
		for _, name := range floatingProps {
			for _, prop := range comp.Props.Values(name) {
				values, err := ParseDateTimeList(&prop)
				if err != nil {
					continue
				}
				for _, v := range values {
					if v.Ref == RefFloating {
						return true
					}
				}
			}
		}
	}
	return false
}
