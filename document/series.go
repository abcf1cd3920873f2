package document

import (
	"sort"
	"time"

	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
)

// PropRecurrenceID names the property linking an override to its master.
const PropRecurrenceID = "RECURRENCE-ID"

// Series groups the components sharing one UID: the master (if any) and its
// overridden instances.
type Series struct {
	UID       string
	Master    *ical.Component
	Overrides []*ical.Component
}

// Series groups the non-timezone components of d by UID, in document order.
func (d *Document) Series() []*Series {
	var out []*Series
	byUID := make(map[string]*Series)
	for _, comp := range d.Components() {
		uid := PropText(comp, ical.PropUID)
		s, ok := byUID[uid]
		if !ok {
			s = &Series{UID: uid}
			byUID[uid] = s
			out = append(out, s)
		}
		if comp.Props.Get(PropRecurrenceID) != nil {
			s.Overrides = append(s.Overrides, comp)
		} else if s.Master == nil {
			s.Master = comp
		}
	}
	return out
}

// SeriesOf returns the series comp belongs to.
func SeriesOf(all []*Series, comp *ical.Component) *Series {
	for _, s := range all {
		if s.Master == comp {
			return s
		}
		for _, o := range s.Overrides {
			if o == comp {
				return s
			}
		}
	}
	return nil
}

// Instance is one concrete occurrence of a series.
type Instance struct {
	// Component is the master for generated instances or the override.
	Component    *ical.Component
	Start        time.Time
	End          time.Time
	RecurrenceID time.Time
	Override     bool
}

// Overlaps applies half-open overlap of [start, end) against w; zero-length
// spans use start <= t < end.
func Overlaps(start, end time.Time, w recurrence.Window) bool {
	w.Span = end.Sub(start)
	return w.Overlaps(start)
}

// Instances expands s into the instances overlapping w, sorted by start.
// Generated instances replaced by an override are skipped; overrides are
// tested with their own span. The boolean reports whether the iteration cap
// was reached.
func (c *Context) Instances(s *Series, w recurrence.Window, maxIterations int) ([]Instance, bool) {
	var (
		out     []Instance
		aborted bool
	)

	overridden := make(map[int64]bool)
	for _, o := range s.Overrides {
		rid, _, ok := c.PropInstant(o, PropRecurrenceID)
		if ok {
			overridden[rid.UnixNano()] = true
		}
		span, ok := c.Span(o)
		if ok && Overlaps(span.Start, span.End, w) {
			out = append(out, Instance{Component: o, Start: span.Start, End: span.End, RecurrenceID: rid, Override: true})
		}
	}

	if s.Master != nil {
		master, ok := c.Span(s.Master)
		if ok {
			if !IsRecurring(s.Master) {
				if Overlaps(master.Start, master.End, w) && !overridden[master.Start.UnixNano()] {
					out = append(out, Instance{Component: s.Master, Start: master.Start, End: master.End, RecurrenceID: master.Start})
				}
			} else if set, ok := c.RecurrenceSet(s.Master); ok {
				out, aborted = c.expandMaster(s.Master, set, master, w, maxIterations, overridden, out)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, aborted
}

func (c *Context) expandMaster(master *ical.Component, set recurrence.Set, span Span, w recurrence.Window,
	maxIterations int, overridden map[int64]bool, out []Instance) ([]Instance, bool) {
	w.Span = span.Duration()
	it := set.Iterate(w, maxIterations)
	for {
		o, ok := it.Next()
		if !ok {
			break
		}
		if overridden[o.Start.UnixNano()] {
			continue
		}
		out = append(out, Instance{Component: master, Start: o.Start, End: o.End, RecurrenceID: o.Start})
	}
	return out, it.Aborted()
}

// Matching returns the instances belonging to comp.
func Matching(instances []Instance, comp *ical.Component) []Instance {
	var out []Instance
	for _, in := range instances {
		if in.Component == comp {
			out = append(out, in)
		}
	}
	return out
}
