package filter

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
)

// Evaluator decides whether documents match a filter. It holds only
// configuration and is safe for concurrent use.
type Evaluator struct {
	resolver      document.Resolver
	floating      document.Zone
	maxIterations int
	logger        *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithResolver sets the TZID resolver.
func WithResolver(r document.Resolver) Option {
	return func(e *Evaluator) {
		e.resolver = r
	}
}

// WithDefaultZone sets the zone floating times are read in.
func WithDefaultZone(loc *time.Location) Option {
	return WithFloatingZone(document.LocationZone(loc))
}

// WithFloatingZone is WithDefaultZone for zones that are not IANA
// locations, such as a VTIMEZONE sent with the request.
func WithFloatingZone(z document.Zone) Option {
	return func(e *Evaluator) {
		if z != nil {
			e.floating = z
		}
	}
}

// WithMaxIterations sets the recurrence expansion cap.
func WithMaxIterations(n int) Option {
	return func(e *Evaluator) {
		e.maxIterations = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// NewEvaluator creates an Evaluator. Floating times default to UTC.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		resolver:      document.SystemResolver,
		floating:      document.LocationZone(time.UTC),
		maxIterations: recurrence.DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// FloatingZone returns the zone floating times are read in.
func (e *Evaluator) FloatingZone() document.Zone {
	return e.floating
}

// Match reports whether doc satisfies f. Only a malformed filter is an
// error; unreadable values in doc simply fail to match.
func (e *Evaluator) Match(doc *document.Document, f CompFilter) (bool, error) {
	if err := Validate(f); err != nil {
		return false, err
	}
	root := doc.Root()
	if root == nil {
		return false, fmt.Errorf("empty document")
	}
	if !strings.EqualFold(root.Name, f.Name) {
		return false, nil
	}
	if f.IsNotDefined {
		return false, nil
	}

	ev := &evaluation{
		e:      e,
		ctx:    document.NewZoneContext(doc, e.resolver, e.floating),
		series: doc.Series(),
	}
	return ev.component(f, root, nil), nil
}

// evaluation is the per-call state of Match.
type evaluation struct {
	e      *Evaluator
	ctx    *document.Context
	series []*document.Series
}

// component reports whether every nested node of f holds for comp.
func (ev *evaluation) component(f CompFilter, comp, parent *ical.Component) bool {
	for _, n := range f.Children() {
		if !ev.node(n, comp, parent) {
			return false
		}
	}
	return true
}

func (ev *evaluation) node(n Node, comp, parent *ical.Component) bool {
	switch f := n.(type) {
	case CompFilter:
		return ev.compFilter(f, comp)
	case PropFilter:
		return ev.propFilter(f, comp)
	case TimeRange:
		return ev.timeRange(f, comp, parent)
	default:
		panic(fmt.Sprintf("filter: unhandled node %T", n))
	}
}

// compFilter tests f against the children of parent named f.Name.
func (ev *evaluation) compFilter(f CompFilter, parent *ical.Component) bool {
	found := false
	for _, child := range parent.Children {
		if !strings.EqualFold(child.Name, f.Name) {
			continue
		}
		found = true
		if f.IsNotDefined {
			return false
		}
		if ev.component(f, child, parent) {
			return true
		}
	}
	return f.IsNotDefined && !found
}

func (ev *evaluation) propFilter(f PropFilter, comp *ical.Component) bool {
	props := comp.Props.Values(strings.ToUpper(f.Name))
	if f.IsNotDefined {
		return len(props) == 0
	}
	for i := range props {
		if ev.prop(f, &props[i]) {
			return true
		}
	}
	return false
}

func (ev *evaluation) prop(f PropFilter, p *ical.Prop) bool {
	if f.TimeRange != nil && !ev.propTimeRange(*f.TimeRange, p) {
		return false
	}
	if f.TextMatch != nil && !f.TextMatch.Matches(document.Text(p)) {
		return false
	}
	for _, pf := range f.ParamFilters {
		if !paramFilter(pf, p) {
			return false
		}
	}
	return true
}

func paramFilter(f ParamFilter, p *ical.Prop) bool {
	values, ok := p.Params[strings.ToUpper(f.Name)]
	if f.IsNotDefined {
		return !ok || len(values) == 0
	}
	if !ok || len(values) == 0 {
		return false
	}
	if f.TextMatch == nil {
		return true
	}
	for _, v := range values {
		if f.TextMatch.Matches(v) {
			return true
		}
	}
	return false
}

// propTimeRange tests a date or date-time property value.
func (ev *evaluation) propTimeRange(tr TimeRange, p *ical.Prop) bool {
	values, err := document.ParseDateTimeList(p)
	if err != nil {
		return false
	}
	for _, dt := range values {
		at := ev.ctx.Instant(dt)
		if dt.Date {
			end := ev.ctx.Localizer(dt)(dt.Wall.AddDate(0, 0, 1))
			if tr.Overlaps(at, end) {
				return true
			}
			continue
		}
		if tr.Contains(at) {
			return true
		}
	}
	return false
}
