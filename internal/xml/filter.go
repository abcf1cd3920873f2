package xml

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/cyp0633/calengine/filter"
)

// ParseFilterElement parses a <filter> element. It must hold exactly one
// comp-filter, which is validated as a whole.
func ParseFilterElement(filterElem *etree.Element) (filter.CompFilter, error) {
	compFilters := childrenNamed(filterElem, "comp-filter")
	if len(compFilters) != 1 {
		return filter.CompFilter{}, fmt.Errorf("%w: filter must hold one comp-filter, got %d", ErrInvalidRequest, len(compFilters))
	}
	f, err := parseCompFilter(compFilters[0])
	if err != nil {
		return filter.CompFilter{}, err
	}
	if err := filter.Validate(f); err != nil {
		return filter.CompFilter{}, err
	}
	return f, nil
}

// parseCompFilter recursively parses a comp-filter element
func parseCompFilter(elem *etree.Element) (filter.CompFilter, error) {
	f := filter.CompFilter{Name: elem.SelectAttrValue("name", "")}

	if childNamed(elem, "is-not-defined") != nil {
		f.IsNotDefined = true
		return f, nil
	}

	if tr := childNamed(elem, "time-range"); tr != nil {
		r, err := parseTimeRange(tr)
		if err != nil {
			return f, err
		}
		f.TimeRange = r
	}
	for _, pe := range childrenNamed(elem, "prop-filter") {
		pf, err := parsePropFilter(pe)
		if err != nil {
			return f, err
		}
		f.PropFilters = append(f.PropFilters, pf)
	}
	for _, ce := range childrenNamed(elem, "comp-filter") {
		cf, err := parseCompFilter(ce)
		if err != nil {
			return f, err
		}
		f.CompFilters = append(f.CompFilters, cf)
	}
	return f, nil
}

func parsePropFilter(elem *etree.Element) (filter.PropFilter, error) {
	f := filter.PropFilter{Name: elem.SelectAttrValue("name", "")}

	if childNamed(elem, "is-not-defined") != nil {
		f.IsNotDefined = true
		return f, nil
	}

	if tr := childNamed(elem, "time-range"); tr != nil {
		r, err := parseTimeRange(tr)
		if err != nil {
			return f, err
		}
		f.TimeRange = r
	}
	if tm := childNamed(elem, "text-match"); tm != nil {
		f.TextMatch = parseTextMatch(tm)
	}
	for _, pe := range childrenNamed(elem, "param-filter") {
		f.ParamFilters = append(f.ParamFilters, parseParamFilter(pe))
	}
	return f, nil
}

func parseParamFilter(elem *etree.Element) filter.ParamFilter {
	f := filter.ParamFilter{Name: elem.SelectAttrValue("name", "")}
	if childNamed(elem, "is-not-defined") != nil {
		f.IsNotDefined = true
		return f
	}
	if tm := childNamed(elem, "text-match"); tm != nil {
		f.TextMatch = parseTextMatch(tm)
	}
	return f
}

// parseTextMatch applies the RFC 4791 defaults: i;ascii-casemap, contains.
func parseTextMatch(elem *etree.Element) *filter.TextMatch {
	return &filter.TextMatch{
		Collation: elem.SelectAttrValue("collation", filter.CollationASCIICasemap),
		MatchType: filter.MatchType(elem.SelectAttrValue("match-type", string(filter.MatchContains))),
		Negate:    elem.SelectAttrValue("negate-condition", "no") == "yes",
		Value:     elem.Text(),
	}
}

func parseTimeRange(elem *etree.Element) (*filter.TimeRange, error) {
	start, end, err := parseBounds(elem)
	if err != nil {
		return nil, err
	}
	if start.IsZero() && end.IsZero() {
		return nil, fmt.Errorf("%w: time-range needs a start or an end", filter.ErrInvalidFilter)
	}
	return filter.Range(start, end), nil
}
