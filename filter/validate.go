package filter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is wrapped by every structural filter error.
var ErrInvalidFilter = errors.New("invalid filter")

// Validate checks that f is a well-formed calendar-query filter rooted at
// VCALENDAR.
func Validate(f CompFilter) error {
	if !strings.EqualFold(f.Name, "VCALENDAR") {
		return fmt.Errorf("%w: root comp-filter must be VCALENDAR, got %q", ErrInvalidFilter, f.Name)
	}
	return validateNode(f)
}

func validateNode(n Node) error {
	switch f := n.(type) {
	case CompFilter:
		if f.Name == "" {
			return fmt.Errorf("%w: comp-filter without name", ErrInvalidFilter)
		}
		for _, child := range f.Children() {
			if err := validateNode(child); err != nil {
				return err
			}
		}
		return nil
	case PropFilter:
		if f.Name == "" {
			return fmt.Errorf("%w: prop-filter without name", ErrInvalidFilter)
		}
		if f.TimeRange != nil {
			if err := validateNode(*f.TimeRange); err != nil {
				return err
			}
		}
		if err := validateTextMatch(f.TextMatch); err != nil {
			return err
		}
		for _, p := range f.ParamFilters {
			if p.Name == "" {
				return fmt.Errorf("%w: param-filter without name", ErrInvalidFilter)
			}
			if err := validateTextMatch(p.TextMatch); err != nil {
				return err
			}
		}
		return nil
	case TimeRange:
		start, hasStart := f.Start.Get()
		end, hasEnd := f.End.Get()
		if !hasStart && !hasEnd {
			return fmt.Errorf("%w: time-range needs a start or an end", ErrInvalidFilter)
		}
		if hasStart && hasEnd && !end.After(start) {
			return fmt.Errorf("%w: time-range end must be after start", ErrInvalidFilter)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown node %T", ErrInvalidFilter, n)
	}
}

func validateTextMatch(tm *TextMatch) error {
	if tm == nil {
		return nil
	}
	switch tm.Collation {
	case "", CollationASCIICasemap, CollationOctet, CollationUnicodeCasemap:
	default:
		return fmt.Errorf("%w: unsupported collation %q", ErrInvalidFilter, tm.Collation)
	}
	switch tm.MatchType {
	case "", MatchEquals, MatchContains, MatchStartsWith, MatchEndsWith:
	default:
		return fmt.Errorf("%w: unsupported match-type %q", ErrInvalidFilter, tm.MatchType)
	}
	return nil
}
