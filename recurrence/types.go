// Package recurrence expands RRULE/RDATE/EXDATE recurrence sets into a
// bounded, lazily generated sequence of occurrences.
package recurrence

import (
	"errors"
	"time"
)

// DefaultMaxIterations bounds the number of candidate instants a single
// iterator will generate before giving up.
const DefaultMaxIterations = 50000

// ErrExpansionAborted is reported by Iterator.Err when the iteration cap was
// reached. Callers treat it as "no further occurrences".
var ErrExpansionAborted = errors.New("recurrence: expansion aborted at iteration cap")

// Localizer maps a wall-clock time, carried in a UTC time.Time, to the
// absolute instant it denotes in some zone.
type Localizer func(wall time.Time) time.Time

// ExDate is a single exclusion. AllDay exclusions match every occurrence whose
// wall-clock date equals Time's date; the others match by instant.
type ExDate struct {
	Time   time.Time
	AllDay bool
}

// Set describes a recurrence set seeded at Start.
type Set struct {
	// Start is the DTSTART wall clock carried in UTC.
	Start time.Time
	// Rules holds RRULE values without the "RRULE:" prefix.
	Rules []string
	// RDates are additional occurrence instants.
	RDates []time.Time
	// ExDates are excluded occurrences.
	ExDates []ExDate
	// Localize converts wall-clock values to instants. Nil means UTC.
	Localize Localizer
}

// Window restricts the occurrences an iterator yields. A zero Start or End is
// unbounded on that side. Span is the length of each occurrence and decides
// whether an occurrence starting before Start still overlaps the window.
type Window struct {
	Start time.Time
	End   time.Time
	Span  time.Duration
}

// Occurrence is one generated instance.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether an occurrence starting at t falls in the window.
// Zero-length occurrences use start <= t < end.
func (w Window) Overlaps(t time.Time) bool {
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	if w.Start.IsZero() {
		return true
	}
	if w.Span <= 0 {
		return !t.Before(w.Start)
	}
	return t.Add(w.Span).After(w.Start)
}

// Past reports whether t and every later instant lie beyond the window end.
func (w Window) Past(t time.Time) bool {
	return !w.End.IsZero() && !t.Before(w.End)
}
