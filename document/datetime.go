package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Reference tells how a date-time value is anchored.
type Reference int

const (
	// RefUTC values carry a trailing Z.
	RefUTC Reference = iota
	// RefZoned values carry a TZID parameter.
	RefZoned
	// RefFloating values are read in the caller's default zone. DATE values
	// are always floating.
	RefFloating
)

func (r Reference) String() string {
	switch r {
	case RefUTC:
		return "utc"
	case RefZoned:
		return "zoned"
	default:
		return "floating"
	}
}

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
)

// DateTime is a parsed DATE or DATE-TIME value. Wall holds the written
// fields in a UTC time.Time; use Context.Instant for the absolute time.
type DateTime struct {
	Wall time.Time
	Date bool
	Ref  Reference
	TZID string
}

// ParseDateTime parses the first value of p.
func ParseDateTime(p *ical.Prop) (DateTime, error) {
	values, err := ParseDateTimeList(p)
	if err != nil {
		return DateTime{}, err
	}
	return values[0], nil
}

// ParseDateTimeList parses every comma separated value of p. PERIOD values
// contribute their start.
func ParseDateTimeList(p *ical.Prop) ([]DateTime, error) {
	if p == nil {
		return nil, fmt.Errorf("missing date-time property")
	}
	tzid := p.Params.Get(ical.ParamTimezoneID)
	isDate := strings.EqualFold(p.Params.Get(ical.ParamValue), "DATE")

	var out []DateTime
	for _, raw := range strings.Split(p.Value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if start, _, ok := strings.Cut(raw, "/"); ok {
			raw = start
		}
		dt, err := parseValue(raw, tzid, isDate)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		out = append(out, dt)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("property %s: empty value", p.Name)
	}
	return out, nil
}

func parseValue(v, tzid string, isDate bool) (DateTime, error) {
	if isDate || len(v) == len(layoutDate) {
		t, err := time.Parse(layoutDate, v)
		if err != nil {
			return DateTime{}, fmt.Errorf("invalid date %q", v)
		}
		return DateTime{Wall: t, Date: true, Ref: RefFloating}, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutDateTime, strings.TrimSuffix(v, "Z"))
		if err != nil {
			return DateTime{}, fmt.Errorf("invalid date-time %q", v)
		}
		return DateTime{Wall: t, Ref: RefUTC}, nil
	}

	t, err := time.Parse(layoutDateTime, v)
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid date-time %q", v)
	}
	if tzid != "" {
		return DateTime{Wall: t, Ref: RefZoned, TZID: tzid}, nil
	}
	return DateTime{Wall: t, Ref: RefFloating}, nil
}

// FormatUTC renders an instant as a UTC DATE-TIME value.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(layoutDateTime) + "Z"
}

// FormatDate renders the wall date of t as a DATE value.
func FormatDate(t time.Time) string {
	return t.Format(layoutDate)
}

// Duration returns the DURATION of comp, if present and valid.
func Duration(comp *ical.Component) (time.Duration, bool) {
	p := comp.Props.Get(ical.PropDuration)
	if p == nil {
		return 0, false
	}
	d, err := p.Duration()
	if err != nil {
		return 0, false
	}
	return d, true
}

// RecurrenceRules returns the raw RRULE values of comp.
func RecurrenceRules(comp *ical.Component) []string {
	var out []string
	for _, p := range comp.Props.Values(ical.PropRecurrenceRule) {
		if v := strings.TrimSpace(p.Value); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsRecurring reports whether comp defines a recurrence set.
func IsRecurring(comp *ical.Component) bool {
	return comp.Props.Get(ical.PropRecurrenceRule) != nil || comp.Props.Get(ical.PropRecurrenceDates) != nil
}

// parseOffset parses a UTC-OFFSET value such as "-0500" or "+053000".
func parseOffset(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if len(v) != 5 && len(v) != 7 {
		return 0, fmt.Errorf("invalid utc-offset %q", v)
	}
	sign := time.Duration(1)
	switch v[0] {
	case '-':
		sign = -1
	case '+':
	default:
		return 0, fmt.Errorf("invalid utc-offset %q", v)
	}
	var h, m, s int
	if _, err := fmt.Sscanf(v[1:3]+" "+v[3:5], "%d %d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid utc-offset %q", v)
	}
	if len(v) == 7 {
		if _, err := fmt.Sscanf(v[5:7], "%d", &s); err != nil {
			return 0, fmt.Errorf("invalid utc-offset %q", v)
		}
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second), nil
}
