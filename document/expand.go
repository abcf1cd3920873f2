package document

import (
	"time"

	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
)

// Expand returns a copy of d in which every recurring series is replaced by
// its instances overlapping [start, end). Instances carry a RECURRENCE-ID,
// timed values are rewritten in UTC and VTIMEZONE components are dropped.
func (c *Context) Expand(d *Document, start, end time.Time, maxIterations int) *Document {
	root := ical.NewComponent(ical.CompCalendar)
	for name, props := range d.Root().Props {
		root.Props[name] = append([]ical.Prop(nil), props...)
	}

	w := recurrence.Window{Start: start, End: end}
	for _, s := range d.Series() {
		instances, _ := c.Instances(s, w, maxIterations)
		for _, in := range instances {
			root.Children = append(root.Children, c.instanceComponent(s, in))
		}
	}
	return &Document{Calendar: &ical.Calendar{Component: root}}
}

func (c *Context) instanceComponent(s *Series, in Instance) *ical.Component {
	out := cloneComponent(in.Component)
	for _, name := range []string{ical.PropRecurrenceRule, ical.PropRecurrenceDates, ical.PropExceptionDates} {
		out.Props.Del(name)
	}

	_, startDT, _ := c.PropInstant(in.Component, ical.PropDateTimeStart)
	c.setInstant(out, ical.PropDateTimeStart, in.Start, startDT.Date)

	if out.Props.Get(ical.PropDateTimeEnd) != nil || out.Props.Get(ical.PropDue) != nil {
		name := ical.PropDateTimeEnd
		if out.Props.Get(ical.PropDue) != nil {
			name = ical.PropDue
		}
		c.setInstant(out, name, in.End, startDT.Date)
	}

	if in.Override {
		if _, rid, ok := c.PropInstant(in.Component, PropRecurrenceID); ok {
			c.setInstant(out, PropRecurrenceID, in.RecurrenceID, rid.Date)
		}
	} else if s.Master != nil && IsRecurring(s.Master) {
		c.setInstant(out, PropRecurrenceID, in.RecurrenceID, startDT.Date)
	}
	return out
}

func (c *Context) setInstant(comp *ical.Component, name string, t time.Time, date bool) {
	p := ical.NewProp(name)
	if date {
		p.Params.Set(ical.ParamValue, "DATE")
		p.Value = FormatDate(c.floating.Wall(t))
	} else {
		p.Value = FormatUTC(t)
	}
	comp.Props.Set(p)
}

func cloneComponent(comp *ical.Component) *ical.Component {
	out := ical.NewComponent(comp.Name)
	for name, props := range comp.Props {
		cp := make([]ical.Prop, len(props))
		for i, p := range props {
			cp[i] = ical.Prop{Name: p.Name, Value: p.Value, Params: make(ical.Params, len(p.Params))}
			for k, v := range p.Params {
				cp[i].Params[k] = append([]string(nil), v...)
			}
		}
		out.Props[name] = cp
	}
	for _, child := range comp.Children {
		out.Children = append(out.Children, cloneComponent(child))
	}
	return out
}
