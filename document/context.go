package document

import (
	"time"

	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
)

// Context resolves the date-times of one document. TZIDs are looked up with
// the injected Resolver first, then in the document's own VTIMEZONEs, and
// default to UTC. A Context caches zone lookups and must not be shared
// between goroutines.
type Context struct {
	resolver Resolver
	floating Zone
	inline   map[string]*ical.Component
	zones    map[string]Zone
}

// NewContext prepares time resolution for doc. A nil floating location
// means UTC.
func NewContext(doc *Document, resolver Resolver, floating *time.Location) *Context {
	return NewZoneContext(doc, resolver, LocationZone(floating))
}

// NewZoneContext is NewContext with floating values read in an arbitrary
// Zone, such as one built from a request VTIMEZONE. A nil zone means UTC.
func NewZoneContext(doc *Document, resolver Resolver, floating Zone) *Context {
	if floating == nil {
		floating = LocationZone(time.UTC)
	}
	c := &Context{
		resolver: resolver,
		floating: floating,
		inline:   make(map[string]*ical.Component),
		zones:    make(map[string]Zone),
	}
	if doc != nil && doc.Root() != nil {
		for _, tz := range doc.Timezones() {
			if id := PropText(tz, ical.PropTimezoneID); id != "" {
				c.inline[id] = tz
			}
		}
	}
	return c
}

// Floating returns the zone floating values are read in.
func (c *Context) Floating() Zone {
	return c.floating
}

// Zone returns the zone for tzid.
func (c *Context) Zone(tzid string) Zone {
	if z, ok := c.zones[tzid]; ok {
		return z
	}
	z := c.lookup(tzid)
	c.zones[tzid] = z
	return z
}

func (c *Context) lookup(tzid string) Zone {
	if c.resolver != nil {
		if loc, err := c.resolver.Resolve(tzid); err == nil {
			return LocationZone(loc)
		}
	}
	if comp, ok := c.inline[tzid]; ok {
		if z, err := NewInlineZone(comp); err == nil {
			return z
		}
	}
	return LocationZone(time.UTC)
}

// Localizer returns the wall-to-instant mapping for values anchored like dt.
func (c *Context) Localizer(dt DateTime) recurrence.Localizer {
	switch dt.Ref {
	case RefUTC:
		return func(wall time.Time) time.Time { return wall }
	case RefZoned:
		return c.Zone(dt.TZID).Localize
	default:
		return c.floating.Localize
	}
}

// Instant returns the absolute time of dt, in UTC.
func (c *Context) Instant(dt DateTime) time.Time {
	return c.Localizer(dt)(dt.Wall)
}

// PropInstant parses the first property called name and resolves it.
func (c *Context) PropInstant(comp *ical.Component, name string) (time.Time, DateTime, bool) {
	p := comp.Props.Get(name)
	if p == nil {
		return time.Time{}, DateTime{}, false
	}
	dt, err := ParseDateTime(p)
	if err != nil {
		return time.Time{}, DateTime{}, false
	}
	return c.Instant(dt), dt, true
}

// Span is the effective [Start, End) of a component.
type Span struct {
	Start time.Time
	End   time.Time
	// Date is set when DTSTART is a DATE value.
	Date bool
}

// Duration returns the length of the span.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Span computes the effective interval of comp: DTEND (or DUE for VTODO),
// else DTSTART+DURATION, else one day for DATE starts, else a zero-length
// instant. ok is false when comp has no usable DTSTART.
func (c *Context) Span(comp *ical.Component) (Span, bool) {
	start, dt, ok := c.PropInstant(comp, ical.PropDateTimeStart)
	if !ok {
		return Span{}, false
	}
	span := Span{Start: start, End: start, Date: dt.Date}

	endName := ical.PropDateTimeEnd
	if comp.Name == ical.CompToDo {
		endName = ical.PropDue
	}
	if comp.Name != ical.CompJournal {
		if end, _, ok := c.PropInstant(comp, endName); ok && !end.Before(start) {
			span.End = end
			return span, true
		}
		if d, ok := Duration(comp); ok && d >= 0 {
			span.End = c.Localizer(dt)(dt.Wall.Add(d))
			return span, true
		}
	}
	if dt.Date {
		span.End = c.Localizer(dt)(dt.Wall.AddDate(0, 0, 1))
	}
	return span, true
}

// RecurrenceSet builds the recurrence set of comp. ok is false when comp has
// no DTSTART.
func (c *Context) RecurrenceSet(comp *ical.Component) (recurrence.Set, bool) {
	p := comp.Props.Get(ical.PropDateTimeStart)
	if p == nil {
		return recurrence.Set{}, false
	}
	start, err := ParseDateTime(p)
	if err != nil {
		return recurrence.Set{}, false
	}

	set := recurrence.Set{
		Start:    start.Wall,
		Rules:    RecurrenceRules(comp),
		Localize: c.Localizer(start),
	}
	for _, rp := range comp.Props.Values(ical.PropRecurrenceDates) {
		dates, err := ParseDateTimeList(&rp)
		if err != nil {
			continue
		}
		for _, d := range dates {
			set.RDates = append(set.RDates, c.Instant(d))
		}
	}
	for _, ep := range comp.Props.Values(ical.PropExceptionDates) {
		dates, err := ParseDateTimeList(&ep)
		if err != nil {
			continue
		}
		for _, d := range dates {
			if d.Date {
				set.ExDates = append(set.ExDates, recurrence.ExDate{Time: d.Wall, AllDay: true})
				continue
			}
			set.ExDates = append(set.ExDates, recurrence.ExDate{Time: c.Instant(d)})
		}
	}
	return set, true
}
