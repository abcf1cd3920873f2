package document

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
)

// Resolver maps a TZID to a location. It is passed explicitly to every entry
// point so tests can substitute deterministic zones.
type Resolver interface {
	Resolve(tzid string) (*time.Location, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(tzid string) (*time.Location, error)

func (f ResolverFunc) Resolve(tzid string) (*time.Location, error) {
	return f(tzid)
}

// SystemResolver looks TZIDs up in the host tz database. Vendor prefixed
// identifiers such as "/mozilla.org/20050126_1/Europe/Berlin" are retried
// with their leading path segments removed.
var SystemResolver Resolver = ResolverFunc(func(tzid string) (*time.Location, error) {
	name := strings.TrimSpace(tzid)
	for name != "" {
		if loc, err := time.LoadLocation(name); err == nil && name != "Local" {
			return loc, nil
		}
		_, rest, ok := strings.Cut(strings.TrimPrefix(name, "/"), "/")
		if !ok {
			break
		}
		name = rest
	}
	return nil, fmt.Errorf("unknown timezone %q", tzid)
})

// FixedResolver resolves from a fixed table.
type FixedResolver map[string]*time.Location

func (r FixedResolver) Resolve(tzid string) (*time.Location, error) {
	if loc, ok := r[tzid]; ok {
		return loc, nil
	}
	return nil, fmt.Errorf("unknown timezone %q", tzid)
}

// Zone converts between wall-clock times and instants. Wall values carry
// their fields in UTC.
type Zone interface {
	Localize(wall time.Time) time.Time
	Wall(instant time.Time) time.Time
}

type locationZone struct {
	loc *time.Location
}

func (z locationZone) Localize(wall time.Time) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), z.loc).UTC()
}

func (z locationZone) Wall(instant time.Time) time.Time {
	l := instant.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

// LocationZone returns a Zone backed by loc. A nil loc means UTC.
func LocationZone(loc *time.Location) Zone {
	if loc == nil {
		loc = time.UTC
	}
	return locationZone{loc: loc}
}

// inlineZone evaluates the STANDARD/DAYLIGHT observances of a VTIMEZONE.
type inlineZone struct {
	observances []observance
}

type observance struct {
	start  time.Time
	rules  []string
	rdates []time.Time
	from   time.Duration
	to     time.Duration
}

// NewInlineZone builds a Zone from a VTIMEZONE component.
func NewInlineZone(comp *ical.Component) (Zone, error) {
	z := &inlineZone{}
	for _, child := range comp.Children {
		if child.Name != "STANDARD" && child.Name != "DAYLIGHT" {
			continue
		}
		obs, err := parseObservance(child)
		if err != nil {
			return nil, err
		}
		z.observances = append(z.observances, obs)
	}
	if len(z.observances) == 0 {
		return nil, fmt.Errorf("timezone %q has no observances", PropText(comp, ical.PropTimezoneID))
	}
	sort.Slice(z.observances, func(i, j int) bool {
		return z.observances[i].start.Before(z.observances[j].start)
	})
	return z, nil
}

func parseObservance(comp *ical.Component) (observance, error) {
	var obs observance
	start, err := ParseDateTime(comp.Props.Get(ical.PropDateTimeStart))
	if err != nil {
		return obs, err
	}
	obs.start = start.Wall
	from, to := comp.Props.Get("TZOFFSETFROM"), comp.Props.Get("TZOFFSETTO")
	if from == nil || to == nil {
		return obs, fmt.Errorf("observance %s: missing offsets", comp.Name)
	}
	if obs.from, err = parseOffset(from.Value); err != nil {
		return obs, err
	}
	if obs.to, err = parseOffset(to.Value); err != nil {
		return obs, err
	}
	obs.rules = RecurrenceRules(comp)
	for _, p := range comp.Props.Values(ical.PropRecurrenceDates) {
		dates, err := ParseDateTimeList(&p)
		if err != nil {
			return obs, err
		}
		for _, d := range dates {
			obs.rdates = append(obs.rdates, d.Wall)
		}
	}
	return obs, nil
}

func (z *inlineZone) Localize(wall time.Time) time.Time {
	return wall.Add(-z.offset(wall)).UTC()
}

// Wall guesses the wall time from the offset at the instant read as wall,
// then corrects with the offset in effect at that guess.
func (z *inlineZone) Wall(instant time.Time) time.Time {
	instant = instant.UTC()
	guess := instant.Add(z.offset(instant))
	return instant.Add(z.offset(guess))
}

// offset returns the UTC offset in effect at wall, taken from the latest
// observance onset not after it.
func (z *inlineZone) offset(wall time.Time) time.Duration {
	var (
		onset time.Time
		found bool
		off   = z.observances[0].from
	)
	window := recurrence.Window{End: wall.Add(time.Second)}
	for _, obs := range z.observances {
		if obs.start.After(wall) {
			continue
		}
		set := recurrence.Set{Start: obs.start, Rules: obs.rules, RDates: obs.rdates}
		occ, _ := recurrence.Expand(set, window, 2000)
		if len(occ) == 0 {
			continue
		}
		last := occ[len(occ)-1].Start
		if !found || last.After(onset) {
			onset, off, found = last, obs.to, true
		}
	}
	return off
}
