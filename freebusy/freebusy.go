// Package freebusy folds matching events into merged busy intervals and
// renders them as a VFREEBUSY.
package freebusy

import (
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
)

// BusyType is the FBTYPE of an interval. The order of the constants is the
// tie-break order of intervals starting at the same instant.
type BusyType int

const (
	Busy BusyType = iota
	Tentative
	Unavailable
)

func (t BusyType) String() string {
	switch t {
	case Tentative:
		return "BUSY-TENTATIVE"
	case Unavailable:
		return "BUSY-UNAVAILABLE"
	default:
		return "BUSY"
	}
}

// Interval is one busy period, half-open.
type Interval struct {
	Start time.Time
	End   time.Time
	Type  BusyType
}

// Report is the aggregated result for one window.
type Report struct {
	Start     time.Time
	End       time.Time
	Intervals []Interval
}

const (
	propTransparency = "TRANSP"
	propBusyStatus   = "X-MICROSOFT-CDO-BUSYSTATUS"
)

// Aggregator computes free-busy reports. It holds only configuration.
type Aggregator struct {
	resolver      document.Resolver
	floating      document.Zone
	maxIterations int
	logger        *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithResolver(r document.Resolver) Option {
	return func(a *Aggregator) { a.resolver = r }
}

func WithDefaultZone(loc *time.Location) Option {
	return WithFloatingZone(document.LocationZone(loc))
}

// WithFloatingZone sets the zone floating times are read in.
func WithFloatingZone(z document.Zone) Option {
	return func(a *Aggregator) {
		if z != nil {
			a.floating = z
		}
	}
}

func WithMaxIterations(n int) Option {
	return func(a *Aggregator) { a.maxIterations = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		resolver:      document.SystemResolver,
		floating:      document.LocationZone(time.UTC),
		maxIterations: recurrence.DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a
}

// Compute collects the busy time of the VEVENTs in docs within
// [start, end). The documents are expected to be pre-filtered by a
// VEVENT time-range query and are not filtered again.
func (a *Aggregator) Compute(docs []*document.Document, start, end time.Time) Report {
	w := recurrence.Window{Start: start, End: end}
	var intervals []Interval
	for _, doc := range docs {
		if doc.Root() == nil {
			continue
		}
		ctx := document.NewZoneContext(doc, a.resolver, a.floating)
		for _, s := range doc.Series() {
			instances, aborted := ctx.Instances(s, w, a.maxIterations)
			if aborted {
				a.logger.Warn("recurrence expansion hit iteration cap", "uid", s.UID)
			}
			for _, in := range instances {
				if in.Component.Name != ical.CompEvent {
					continue
				}
				typ, ok := Classify(in.Component)
				if !ok {
					continue
				}
				iv, ok := clip(Interval{Start: in.Start, End: in.End, Type: typ}, start, end)
				if ok {
					intervals = append(intervals, iv)
				}
			}
		}
	}
	return Report{Start: start, End: end, Intervals: Merge(intervals)}
}

// Classify maps an event to its busy type. ok is false for events that do
// not block time: TRANSP:TRANSPARENT, STATUS:CANCELLED and Outlook's FREE.
func Classify(comp *ical.Component) (BusyType, bool) {
	if strings.EqualFold(document.PropText(comp, propTransparency), "TRANSPARENT") {
		return 0, false
	}
	switch strings.ToUpper(document.PropText(comp, ical.PropStatus)) {
	case "CANCELLED":
		return 0, false
	case "TENTATIVE":
		return Tentative, true
	}
	switch strings.ToUpper(document.PropText(comp, propBusyStatus)) {
	case "FREE":
		return 0, false
	case "OOF":
		return Unavailable, true
	case "TENTATIVE":
		return Tentative, true
	}
	return Busy, true
}

// Merge sorts intervals by start, then type, and joins intervals of the
// same type that touch or overlap.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sortIntervals(sorted)

	var out []Interval
	open := make(map[BusyType]int)
	for _, iv := range sorted {
		if i, ok := open[iv.Type]; ok && !iv.Start.After(out[i].End) {
			if iv.End.After(out[i].End) {
				out[i].End = iv.End
			}
			continue
		}
		open[iv.Type] = len(out)
		out = append(out, iv)
	}
	return out
}

func sortIntervals(ivs []Interval) {
	sort.SliceStable(ivs, func(i, j int) bool {
		if !ivs[i].Start.Equal(ivs[j].Start) {
			return ivs[i].Start.Before(ivs[j].Start)
		}
		return ivs[i].Type < ivs[j].Type
	})
}

func clip(iv Interval, start, end time.Time) (Interval, bool) {
	if !start.IsZero() && iv.Start.Before(start) {
		iv.Start = start
	}
	if !end.IsZero() && iv.End.After(end) {
		iv.End = end
	}
	return iv, iv.End.After(iv.Start)
}
