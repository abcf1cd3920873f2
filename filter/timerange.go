package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/emersion/go-ical"
)

const (
	propCompleted = "COMPLETED"
	propCreated   = "CREATED"
	propTrigger   = "TRIGGER"
	propRepeat    = "REPEAT"
	propFreeBusy  = "FREEBUSY"
)

// timeRange applies the RFC 4791 section 9.9 rules for comp's type.
func (ev *evaluation) timeRange(tr TimeRange, comp, parent *ical.Component) bool {
	switch comp.Name {
	case ical.CompEvent, ical.CompJournal:
		if ev.recurring(comp) {
			return ev.instances(tr, comp)
		}
		span, ok := ev.ctx.Span(comp)
		if !ok {
			return false
		}
		return tr.Overlaps(span.Start, span.End)
	case ical.CompToDo:
		if ev.recurring(comp) && comp.Props.Get(ical.PropDateTimeStart) != nil {
			return ev.instances(tr, comp)
		}
		return ev.todo(tr, comp)
	case ical.CompAlarm:
		return ev.alarm(tr, comp, parent)
	case ical.CompFreeBusy:
		return ev.freeBusy(tr, comp)
	default:
		return false
	}
}

// recurring reports whether comp is part of a series that needs expansion.
func (ev *evaluation) recurring(comp *ical.Component) bool {
	if comp.Props.Get(document.PropRecurrenceID) != nil {
		return true
	}
	return document.IsRecurring(comp)
}

// instances expands the series of comp and reports whether one of comp's
// own instances overlaps tr.
func (ev *evaluation) instances(tr TimeRange, comp *ical.Component) bool {
	s := document.SeriesOf(ev.series, comp)
	if s == nil {
		return false
	}
	all, aborted := ev.ctx.Instances(s, tr.Window(), ev.e.maxIterations)
	if aborted {
		ev.e.logger.Warn("recurrence expansion hit iteration cap",
			"uid", s.UID,
			"max_iterations", ev.e.maxIterations)
	}
	for _, in := range document.Matching(all, comp) {
		if tr.Overlaps(in.Start, in.End) {
			return true
		}
	}
	return false
}

// todo implements the VTODO table: DTSTART with DURATION or DUE, DUE alone,
// COMPLETED and CREATED fallbacks, and always-match when none is present.
func (ev *evaluation) todo(tr TimeRange, comp *ical.Component) bool {
	start, _, hasStart := ev.ctx.PropInstant(comp, ical.PropDateTimeStart)
	due, _, hasDue := ev.ctx.PropInstant(comp, ical.PropDue)

	if hasStart {
		if d, ok := document.Duration(comp); ok {
			end := start.Add(d)
			return tr.atOrBefore(end) && (tr.endsAfter(start) || tr.endsAtOrAfter(end))
		}
		if hasDue {
			return (tr.startsBefore(due) || tr.atOrBefore(start)) &&
				(tr.endsAfter(start) || tr.endsAtOrAfter(due))
		}
		return tr.atOrBefore(start) && tr.endsAfter(start)
	}
	if hasDue {
		return tr.startsBefore(due) && tr.endsAtOrAfter(due)
	}

	completed, _, hasCompleted := ev.ctx.PropInstant(comp, propCompleted)
	created, _, hasCreated := ev.ctx.PropInstant(comp, propCreated)
	switch {
	case hasCompleted && hasCreated:
		return (tr.atOrBefore(created) || tr.atOrBefore(completed)) &&
			(tr.endsAtOrAfter(created) || tr.endsAtOrAfter(completed))
	case hasCompleted:
		return tr.atOrBefore(completed) && tr.endsAtOrAfter(completed)
	case hasCreated:
		return tr.endsAfter(created)
	default:
		return true
	}
}

// alarm tests every trigger time of a VALARM, including repeats, with
// start <= t < end. Relative triggers follow each instance of the parent.
func (ev *evaluation) alarm(tr TimeRange, alarm, parent *ical.Component) bool {
	trigger := alarm.Props.Get(propTrigger)
	if trigger == nil || parent == nil {
		return false
	}

	repeat := 0
	var interval time.Duration
	if p, dp := alarm.Props.Get(propRepeat), alarm.Props.Get(ical.PropDuration); p != nil && dp != nil {
		d, err := dp.Duration()
		n, nerr := strconv.Atoi(strings.TrimSpace(p.Value))
		if err == nil && nerr == nil && d > 0 && n > 0 {
			interval, repeat = d, n
		}
	}

	fires := func(t time.Time) bool {
		for i := 0; i <= repeat; i++ {
			if tr.Contains(t.Add(time.Duration(i) * interval)) {
				return true
			}
		}
		return false
	}

	if trigger.Params.Get(ical.ParamValue) == "DATE-TIME" {
		dt, err := document.ParseDateTime(trigger)
		if err != nil {
			return false
		}
		return fires(ev.ctx.Instant(dt))
	}

	offset, err := trigger.Duration()
	if err != nil {
		return false
	}
	fromEnd := trigger.Params.Get("RELATED") == "END"

	for _, span := range ev.parentSpans(tr, parent, offset, interval*time.Duration(repeat)) {
		anchor := span.Start
		if fromEnd {
			anchor = span.End
		}
		if fires(anchor.Add(offset)) {
			return true
		}
	}
	return false
}

// parentSpans returns the spans of parent that could carry an alarm firing
// inside tr. The window is widened by the trigger offset and repeat reach.
func (ev *evaluation) parentSpans(tr TimeRange, parent *ical.Component, offset, reach time.Duration) []document.Span {
	if !ev.recurring(parent) {
		span, ok := ev.ctx.Span(parent)
		if !ok {
			if due, _, ok := ev.ctx.PropInstant(parent, ical.PropDue); ok {
				return []document.Span{{Start: due, End: due}}
			}
			return nil
		}
		return []document.Span{span}
	}

	s := document.SeriesOf(ev.series, parent)
	if s == nil {
		return nil
	}
	w := tr.Window()
	slack := absDuration(offset) + reach
	if !w.Start.IsZero() {
		w.Start = w.Start.Add(-slack)
	}
	if !w.End.IsZero() {
		w.End = w.End.Add(slack)
	}
	all, aborted := ev.ctx.Instances(s, w, ev.e.maxIterations)
	if aborted {
		ev.e.logger.Warn("recurrence expansion hit iteration cap", "uid", s.UID)
	}
	var out []document.Span
	for _, in := range document.Matching(all, parent) {
		out = append(out, document.Span{Start: in.Start, End: in.End})
	}
	return out
}

// freeBusy overlaps a VFREEBUSY by DTSTART/DTEND or, failing that, by its
// FREEBUSY periods.
func (ev *evaluation) freeBusy(tr TimeRange, comp *ical.Component) bool {
	start, _, hasStart := ev.ctx.PropInstant(comp, ical.PropDateTimeStart)
	end, _, hasEnd := ev.ctx.PropInstant(comp, ical.PropDateTimeEnd)
	if hasStart && hasEnd {
		return tr.Overlaps(start, end)
	}
	for _, p := range comp.Props.Values(propFreeBusy) {
		for _, period := range strings.Split(p.Value, ",") {
			ps, pe, err := parsePeriod(period)
			if err != nil {
				continue
			}
			if tr.Overlaps(ps, pe) {
				return true
			}
		}
	}
	return false
}

func (tr TimeRange) atOrBefore(t time.Time) bool {
	s, ok := tr.Start.Get()
	return !ok || !t.Before(s)
}

func (tr TimeRange) startsBefore(t time.Time) bool {
	s, ok := tr.Start.Get()
	return !ok || s.Before(t)
}

func (tr TimeRange) endsAfter(t time.Time) bool {
	e, ok := tr.End.Get()
	return !ok || e.After(t)
}

func (tr TimeRange) endsAtOrAfter(t time.Time) bool {
	e, ok := tr.End.Get()
	return !ok || !e.Before(t)
}

// parsePeriod reads a UTC period, either start/end or start/duration.
func parsePeriod(v string) (time.Time, time.Time, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("malformed period %q", v)
	}
	start, err := time.Parse("20060102T150405Z", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if strings.HasPrefix(endStr, "P") || strings.HasPrefix(endStr, "+P") {
		p := ical.NewProp(ical.PropDuration)
		p.Value = strings.TrimPrefix(endStr, "+")
		d, err := p.Duration()
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return start, start.Add(d), nil
	}
	end, err := time.Parse("20060102T150405Z", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
