package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// rule is one RRULE stream. UNTIL is kept out of rrule-go and checked here so
// that it can be compared against the localized instant.
type rule struct {
	next  rrule.Next
	until func(wall, at time.Time) bool
}

// keys rrule-go understands when the full rule cannot be parsed.
var fallbackKeys = map[string]bool{
	"FREQ":     true,
	"INTERVAL": true,
	"COUNT":    true,
	"WKST":     true,
}

// newRule parses value and seeds it at start. When window has a start the
// seed may be fast-forwarded by whole periods.
func newRule(value string, start time.Time, w Window) (*rule, error) {
	parts, untilValue := splitRule(value)
	if _, ok := parts["FREQ"]; !ok {
		return nil, fmt.Errorf("rrule %q: missing FREQ", value)
	}

	opt, err := rrule.StrToROption(joinRule(parts, nil))
	if err != nil {
		// Unsupported by-X parts degrade to plain interval stepping.
		opt, err = rrule.StrToROption(joinRule(parts, fallbackKeys))
		if err != nil {
			return nil, fmt.Errorf("rrule %q: %w", value, err)
		}
	}

	opt.Dtstart = fastForward(start, opt, parts, w)
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("rrule %q: %w", value, err)
	}

	until, err := parseUntil(untilValue)
	if err != nil {
		return nil, fmt.Errorf("rrule %q: %w", value, err)
	}
	return &rule{next: r.Iterator(), until: until}, nil
}

func splitRule(value string) (map[string]string, string) {
	parts := make(map[string]string)
	var until string
	for _, kv := range strings.Split(strings.TrimPrefix(value, "RRULE:"), ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "UNTIL" {
			until = strings.TrimSpace(v)
			continue
		}
		parts[k] = strings.TrimSpace(v)
	}
	return parts, until
}

// joinRule rebuilds a rule string with FREQ first. A non-nil keep restricts
// the keys that are written.
func joinRule(parts map[string]string, keep map[string]bool) string {
	out := []string{"FREQ=" + parts["FREQ"]}
	for k, v := range parts {
		if k == "FREQ" || (keep != nil && !keep[k]) {
			continue
		}
		out = append(out, k+"="+v)
	}
	return strings.Join(out, ";")
}

// parseUntil returns a predicate reporting whether an occurrence lies past
// UNTIL. UTC values compare instants, DATE values compare wall dates
// inclusively, floating values compare wall clocks.
func parseUntil(v string) (func(wall, at time.Time) bool, error) {
	switch {
	case v == "":
		return func(time.Time, time.Time) bool { return false }, nil
	case len(v) == 8:
		d, err := time.Parse("20060102", v)
		if err != nil {
			return nil, fmt.Errorf("invalid UNTIL: %w", err)
		}
		limit := d.AddDate(0, 0, 1)
		return func(wall, _ time.Time) bool { return !wall.Before(limit) }, nil
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return nil, fmt.Errorf("invalid UNTIL: %w", err)
		}
		return func(_, at time.Time) bool { return at.After(t) }, nil
	default:
		t, err := time.Parse("20060102T150405", v)
		if err != nil {
			return nil, fmt.Errorf("invalid UNTIL: %w", err)
		}
		return func(wall, _ time.Time) bool { return wall.After(t) }, nil
	}
}

// fastForward moves the seed of a COUNT-less fixed-period rule close to the
// window so far-future windows do not walk every earlier period.
func fastForward(start time.Time, opt *rrule.ROption, parts map[string]string, w Window) time.Time {
	if w.Start.IsZero() || parts["COUNT"] != "" {
		return start
	}
	interval := 1
	if s, ok := parts["INTERVAL"]; ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			interval = n
		}
	}

	var unit time.Duration
	switch opt.Freq {
	case rrule.WEEKLY:
		unit = 7 * 24 * time.Hour
	case rrule.DAILY:
		unit = 24 * time.Hour
	case rrule.HOURLY:
		unit = time.Hour
	case rrule.MINUTELY:
		unit = time.Minute
	case rrule.SECONDLY:
		unit = time.Second
	default:
		return start
	}
	period := unit * time.Duration(interval)

	// Two days of slack absorbs any zone offset between wall and instant.
	target := w.Start.Add(-w.Span - period - 48*time.Hour)
	if !target.After(start) {
		return start
	}
	k := target.Sub(start) / period
	return start.Add(k * period)
}
