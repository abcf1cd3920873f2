package recurrence

import (
	"sort"
	"time"
)

// Iterator walks a recurrence set in ascending order. It is not safe for
// concurrent use; call Set.Iterate again to restart.
type Iterator struct {
	window   Window
	localize Localizer
	exdates  []ExDate
	max      int

	rules []*stream
	extra []point // DTSTART and RDATE instants, ascending
	pos   int

	count   int
	last    time.Time
	emitted bool
	done    bool
	err     error
	invalid []error
}

type point struct {
	at   time.Time
	wall time.Time
}

type stream struct {
	r      *rule
	head   time.Time
	wall   time.Time
	filled bool
	dry    bool
}

// Iterate returns an iterator over the occurrences of s overlapping w.
// maxIterations <= 0 selects DefaultMaxIterations.
func (s Set) Iterate(w Window, maxIterations int) *Iterator {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	localize := s.Localize
	if localize == nil {
		localize = func(wall time.Time) time.Time { return wall }
	}

	it := &Iterator{
		window:   w,
		localize: localize,
		exdates:  s.ExDates,
		max:      maxIterations,
	}
	for _, v := range s.Rules {
		r, err := newRule(v, s.Start, w)
		if err != nil {
			it.invalid = append(it.invalid, err)
			continue
		}
		it.rules = append(it.rules, &stream{r: r})
	}

	it.extra = append(it.extra, point{at: localize(s.Start), wall: s.Start})
	for _, rd := range s.RDates {
		it.extra = append(it.extra, point{at: rd, wall: rd})
	}
	sort.SliceStable(it.extra, func(i, j int) bool { return it.extra[i].at.Before(it.extra[j].at) })
	return it
}

// Next returns the next occurrence overlapping the window.
func (it *Iterator) Next() (Occurrence, bool) {
	for !it.done {
		t, wall, ok := it.pull()
		if !ok {
			it.done = true
			break
		}
		if it.emitted && t.Equal(it.last) {
			continue
		}
		it.last, it.emitted = t, true

		if it.window.Past(t) {
			it.done = true
			break
		}
		if it.excluded(t, wall) || !it.window.Overlaps(t) {
			continue
		}
		return Occurrence{Start: t, End: t.Add(it.window.Span)}, true
	}
	return Occurrence{}, false
}

// Err returns ErrExpansionAborted when the iteration cap stopped expansion.
func (it *Iterator) Err() error {
	return it.err
}

// Aborted reports whether the iteration cap was reached.
func (it *Iterator) Aborted() bool {
	return it.err != nil
}

// Invalid returns the parse errors of rules that were dropped.
func (it *Iterator) Invalid() []error {
	return it.invalid
}

// pull returns the smallest pending instant over all sources.
func (it *Iterator) pull() (time.Time, time.Time, bool) {
	if it.count >= it.max {
		it.err = ErrExpansionAborted
		return time.Time{}, time.Time{}, false
	}

	var best *stream
	for _, s := range it.rules {
		it.fill(s)
		if s.dry {
			continue
		}
		if best == nil || s.head.Before(best.head) {
			best = s
		}
	}

	useExtra := it.pos < len(it.extra) && (best == nil || !best.head.Before(it.extra[it.pos].at))
	switch {
	case useExtra:
		p := it.extra[it.pos]
		it.pos++
		it.count++
		return p.at, p.wall, true
	case best != nil:
		best.filled = false
		it.count++
		return best.head, best.wall, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

func (it *Iterator) fill(s *stream) {
	if s.filled || s.dry {
		return
	}
	wall, ok := s.r.next()
	if !ok {
		s.dry = true
		return
	}
	at := it.localize(wall)
	if s.r.until(wall, at) {
		s.dry = true
		return
	}
	s.head, s.wall, s.filled = at, wall, true
}

func (it *Iterator) excluded(t, wall time.Time) bool {
	for _, ex := range it.exdates {
		if ex.AllDay {
			y1, m1, d1 := wall.Date()
			y2, m2, d2 := ex.Time.Date()
			if y1 == y2 && m1 == m2 && d1 == d2 {
				return true
			}
			continue
		}
		if t.Equal(ex.Time) {
			return true
		}
	}
	return false
}

// Expand collects every occurrence of s overlapping w. The boolean reports
// whether the iteration cap cut the expansion short.
func Expand(s Set, w Window, maxIterations int) ([]Occurrence, bool) {
	it := s.Iterate(w, maxIterations)
	var out []Occurrence
	for {
		o, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, o)
	}
	return out, it.Aborted()
}
