package filter

import (
	"time"

	"github.com/emersion/go-webdav/caldav"
)

// FromCalDAV converts a go-webdav filter tree. go-webdav carries neither
// collation nor match-type, so text-matches use the defaults.
func FromCalDAV(f caldav.CompFilter) CompFilter {
	out := CompFilter{
		Name:         f.Name,
		IsNotDefined: f.IsNotDefined,
		TimeRange:    fromBounds(f.Start, f.End),
	}
	for _, p := range f.Props {
		out.PropFilters = append(out.PropFilters, fromCalDAVProp(p))
	}
	for _, c := range f.Comps {
		out.CompFilters = append(out.CompFilters, FromCalDAV(c))
	}
	return out
}

func fromCalDAVProp(p caldav.PropFilter) PropFilter {
	out := PropFilter{
		Name:         p.Name,
		IsNotDefined: p.IsNotDefined,
		TimeRange:    fromBounds(p.Start, p.End),
		TextMatch:    fromCalDAVText(p.TextMatch),
	}
	for _, pf := range p.ParamFilter {
		out.ParamFilters = append(out.ParamFilters, ParamFilter{
			Name:         pf.Name,
			IsNotDefined: pf.IsNotDefined,
			TextMatch:    fromCalDAVText(pf.TextMatch),
		})
	}
	return out
}

func fromCalDAVText(tm *caldav.TextMatch) *TextMatch {
	if tm == nil {
		return nil
	}
	return &TextMatch{
		Collation: CollationASCIICasemap,
		MatchType: MatchContains,
		Negate:    tm.NegateCondition,
		Value:     tm.Text,
	}
}

func fromBounds(start, end time.Time) *TimeRange {
	if start.IsZero() && end.IsZero() {
		return nil
	}
	return Range(start, end)
}
