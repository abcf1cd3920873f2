package document

import (
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/calengine/recurrence"
	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleEvent = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Caldora//Go Calendar//EN
BEGIN:VEVENT
UID:event-1
DTSTAMP:20250101T000000Z
DTSTART:20250601T100000Z
DTEND:20250601T110000Z
SUMMARY:Planning\, round two
END:VEVENT
END:VCALENDAR
`

const weeklyWithOverride = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Caldora//Go Calendar//EN
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20250101T000000Z
DTSTART:20250106T090000Z
DTEND:20250106T100000Z
RRULE:FREQ=WEEKLY;COUNT=5
EXDATE:20250127T090000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20250101T000000Z
RECURRENCE-ID:20250120T090000Z
DTSTART:20250120T110000Z
DTEND:20250120T120000Z
SUMMARY:Standup (moved)
END:VEVENT
END:VCALENDAR
`

const zonedEvent = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Caldora//Go Calendar//EN
BEGIN:VTIMEZONE
TZID:Custom/Eastern
BEGIN:STANDARD
DTSTART:19701101T020000
TZOFFSETFROM:-0400
TZOFFSETTO:-0500
RRULE:FREQ=YEARLY;BYMONTH=11;BYDAY=1SU
END:STANDARD
BEGIN:DAYLIGHT
DTSTART:19700308T020000
TZOFFSETFROM:-0500
TZOFFSETTO:-0400
RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=2SU
END:DAYLIGHT
END:VTIMEZONE
BEGIN:VEVENT
UID:zoned-1
DTSTAMP:20250101T000000Z
DTSTART;TZID=Custom/Eastern:20250115T090000
DURATION:PT30M
END:VEVENT
END:VCALENDAR
`

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := ParseBytes([]byte(s))
	require.NoError(t, err)
	return doc
}

func TestParse_RoundTrip(t *testing.T) {
	doc := mustParse(t, simpleEvent)
	assert.Equal(t, ical.CompEvent, doc.ComponentType())
	assert.Equal(t, "event-1", doc.UID())
	assert.Equal(t, "Planning, round two", PropText(doc.Components()[0], ical.PropSummary))

	out, err := doc.Encode()
	require.NoError(t, err)

	again, err := ParseBytes(out)
	require.NoError(t, err)
	assert.True(t, Equal(doc, again))
}

func TestParse_Errors(t *testing.T) {
	_, err := ParseBytes([]byte(""))
	assert.ErrorIs(t, err, ErrNoCalendar)

	_, err = ParseBytes([]byte("BEGIN:VCALENDAR\nVERSION:2.0\n"))
	assert.Error(t, err)
}

func TestEqual_DetectsDifferences(t *testing.T) {
	a := mustParse(t, simpleEvent)
	b := mustParse(t, strings.Replace(simpleEvent, "SUMMARY:Planning", "SUMMARY:Review", 1))
	c := mustParse(t, strings.Replace(simpleEvent, "DTSTART:", "DTSTART;X-FOO=1:", 1))

	assert.True(t, Equal(a, a))
	assert.False(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		name   string
		prop   *ical.Prop
		wall   time.Time
		ref    Reference
		isDate bool
	}{
		{
			name: "UTC",
			prop: &ical.Prop{Name: "DTSTART", Value: "20250601T100000Z", Params: ical.Params{}},
			wall: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			ref:  RefUTC,
		},
		{
			name: "Zoned",
			prop: &ical.Prop{Name: "DTSTART", Value: "20250601T100000", Params: ical.Params{"TZID": {"Europe/Berlin"}}},
			wall: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			ref:  RefZoned,
		},
		{
			name: "Floating",
			prop: &ical.Prop{Name: "DTSTART", Value: "20250601T100000", Params: ical.Params{}},
			wall: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			ref:  RefFloating,
		},
		{
			name:   "Date",
			prop:   &ical.Prop{Name: "DTSTART", Value: "20250601", Params: ical.Params{"VALUE": {"DATE"}}},
			wall:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			ref:    RefFloating,
			isDate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt, err := ParseDateTime(tt.prop)
			require.NoError(t, err)
			assert.Equal(t, tt.wall, dt.Wall)
			assert.Equal(t, tt.ref, dt.Ref)
			assert.Equal(t, tt.isDate, dt.Date)
		})
	}

	_, err := ParseDateTime(&ical.Prop{Name: "DTSTART", Value: "tomorrow", Params: ical.Params{}})
	assert.Error(t, err)
}

func TestContext_ResolutionOrder(t *testing.T) {
	doc := mustParse(t, zonedEvent)

	// The inline VTIMEZONE is used when the resolver does not know the TZID.
	c := NewContext(doc, FixedResolver{}, nil)
	start, _, ok := c.PropInstant(doc.Components()[0], ical.PropDateTimeStart)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC), start)

	// Injected resolver wins over the inline definition.
	plus2 := time.FixedZone("plus2", 2*3600)
	c = NewContext(doc, FixedResolver{"Custom/Eastern": plus2}, nil)
	start, _, ok = c.PropInstant(doc.Components()[0], ical.PropDateTimeStart)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC), start)
}

func TestInlineZone_DaylightSaving(t *testing.T) {
	doc := mustParse(t, zonedEvent)
	z, err := NewInlineZone(doc.Timezones()[0])
	require.NoError(t, err)

	summer := z.Localize(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 7, 1, 13, 0, 0, 0, time.UTC), summer)

	winter := z.Localize(time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 1, 14, 0, 0, 0, time.UTC), winter)

	assert.Equal(t, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), z.Wall(summer))
	assert.Equal(t, time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC), z.Wall(winter))
}

func TestLocationZone_Wall(t *testing.T) {
	z := LocationZone(time.FixedZone("tokyo", 9*3600))
	assert.Equal(t, time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC), z.Wall(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC), LocationZone(nil).Wall(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)))
}

func TestZoneContext_FloatingInInlineZone(t *testing.T) {
	zoned := mustParse(t, zonedEvent)
	z, err := NewInlineZone(zoned.Timezones()[0])
	require.NoError(t, err)

	doc := mustParse(t, strings.Replace(simpleEvent, "DTSTART:20250601T100000Z", "DTSTART:20250601T100000", 1))
	c := NewZoneContext(doc, nil, z)
	start, _, ok := c.PropInstant(doc.Components()[0], ical.PropDateTimeStart)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), start)
	assert.Equal(t, z, c.Floating())
}

func TestContext_FloatingUsesDefaultZone(t *testing.T) {
	doc := mustParse(t, strings.Replace(simpleEvent, "DTSTART:20250601T100000Z", "DTSTART:20250601T100000", 1))
	tokyo := time.FixedZone("tokyo", 9*3600)
	c := NewContext(doc, nil, tokyo)

	start, dt, ok := c.PropInstant(doc.Components()[0], ical.PropDateTimeStart)
	require.True(t, ok)
	assert.Equal(t, RefFloating, dt.Ref)
	assert.Equal(t, time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC), start)
}

func TestContext_Span(t *testing.T) {
	tests := []struct {
		name  string
		props string
		comp  string
		start time.Time
		end   time.Time
	}{
		{
			name:  "DTEND",
			comp:  "VEVENT",
			props: "DTSTART:20250601T100000Z\nDTEND:20250601T110000Z",
			start: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:  "DURATION",
			comp:  "VEVENT",
			props: "DTSTART:20250601T100000Z\nDURATION:PT90M",
			start: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 6, 1, 11, 30, 0, 0, time.UTC),
		},
		{
			name:  "Instant",
			comp:  "VEVENT",
			props: "DTSTART:20250601T100000Z",
			start: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "All day",
			comp:  "VEVENT",
			props: "DTSTART;VALUE=DATE:20250601",
			start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "Todo with due",
			comp:  "VTODO",
			props: "DTSTART:20250601T100000Z\nDUE:20250603T100000Z",
			start: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			end:   time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:x\nBEGIN:" + tt.comp + "\nUID:a\n" + tt.props + "\nEND:" + tt.comp + "\nEND:VCALENDAR\n"
			doc := mustParse(t, src)
			c := NewContext(doc, nil, nil)
			span, ok := c.Span(doc.Components()[0])
			require.True(t, ok)
			assert.Equal(t, tt.start, span.Start)
			assert.Equal(t, tt.end, span.End)
		})
	}
}

func TestContext_InstancesSubstituteOverrides(t *testing.T) {
	doc := mustParse(t, weeklyWithOverride)
	c := NewContext(doc, nil, nil)
	series := doc.Series()
	require.Len(t, series, 1)
	require.NotNil(t, series[0].Master)
	require.Len(t, series[0].Overrides, 1)

	instances, aborted := c.Instances(series[0], recurrence.Window{}, 0)
	assert.False(t, aborted)

	var got []time.Time
	for _, in := range instances {
		got = append(got, in.Start)
	}
	assert.Equal(t, []time.Time{
		time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 20, 11, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC),
	}, got)
	assert.True(t, instances[2].Override)
	assert.Equal(t, time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC), instances[2].RecurrenceID)
}

func TestContext_Expand(t *testing.T) {
	doc := mustParse(t, weeklyWithOverride)
	c := NewContext(doc, nil, nil)

	expanded := c.Expand(doc,
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC), 0)

	comps := expanded.Components()
	require.Len(t, comps, 2)
	for _, comp := range comps {
		assert.Nil(t, comp.Props.Get(ical.PropRecurrenceRule))
		assert.Nil(t, comp.Props.Get(ical.PropExceptionDates))
		assert.NotNil(t, comp.Props.Get(PropRecurrenceID))
	}
	assert.Equal(t, "20250113T090000Z", comps[0].Props.Get(ical.PropDateTimeStart).Value)
	assert.Equal(t, "20250113T090000Z", comps[0].Props.Get(PropRecurrenceID).Value)
	assert.Equal(t, "20250120T110000Z", comps[1].Props.Get(ical.PropDateTimeStart).Value)
	assert.Equal(t, "Standup (moved)", PropText(comps[1], ical.PropSummary))

	// The source document is untouched.
	assert.NotNil(t, doc.Components()[0].Props.Get(ical.PropRecurrenceRule))
}

func TestDenormalize(t *testing.T) {
	raw := []byte(weeklyWithOverride)
	doc := mustParse(t, weeklyWithOverride)
	idx := Denormalize(raw, doc, NewContext(doc, nil, nil), 0)

	assert.Equal(t, "VEVENT", idx.ComponentType)
	assert.Equal(t, "weekly-1", idx.UID)
	assert.Equal(t, len(raw), idx.Size)
	assert.Equal(t, ETag(raw), idx.ETag)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), idx.FirstOccurrence)
	assert.Equal(t, time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC), idx.LastOccurrence)
	assert.False(t, idx.Floating)

	allDay := strings.Replace(weeklyWithOverride, "EXDATE:20250127T090000Z", "EXDATE;VALUE=DATE:20250127", 1)
	doc = mustParse(t, allDay)
	idx = Denormalize([]byte(allDay), doc, NewContext(doc, nil, nil), 0)
	assert.True(t, idx.Floating)

	infinite := strings.Replace(weeklyWithOverride, "RRULE:FREQ=WEEKLY;COUNT=5", "RRULE:FREQ=WEEKLY", 1)
	doc = mustParse(t, infinite)
	idx = Denormalize([]byte(infinite), doc, NewContext(doc, nil, nil), 0)
	assert.Equal(t, MaxDate, idx.LastOccurrence)
}

func TestParseJSON(t *testing.T) {
	jcal := `["vcalendar",
  [["version", {}, "text", "2.0"], ["prodid", {}, "text", "-//Example//EN"]],
  [["vevent",
    [
      ["uid", {}, "text", "jcal-1"],
      ["dtstart", {"tzid": "Europe/Berlin"}, "date-time", "2025-06-01T10:00:00"],
      ["dtend", {}, "date-time", "2025-06-01T11:00:00Z"],
      ["summary", {}, "text", "Lunch, with team"],
      ["rrule", {}, "recur", {"freq": "WEEKLY", "count": 3, "byday": ["MO", "WE"]}],
      ["exdate", {}, "date", "2025-06-04"]
    ],
    []
  ]]
]`
	doc, err := ParseJSON([]byte(jcal))
	require.NoError(t, err)

	name, err := JSONRootName([]byte(jcal))
	require.NoError(t, err)
	assert.Equal(t, "vcalendar", name)

	ev := doc.Components()[0]
	assert.Equal(t, "VEVENT", ev.Name)
	assert.Equal(t, "jcal-1", PropText(ev, ical.PropUID))
	assert.Equal(t, "20250601T100000", ev.Props.Get(ical.PropDateTimeStart).Value)
	assert.Equal(t, "Europe/Berlin", ev.Props.Get(ical.PropDateTimeStart).Params.Get("TZID"))
	assert.Equal(t, "20250601T110000Z", ev.Props.Get(ical.PropDateTimeEnd).Value)
	assert.Equal(t, "Lunch, with team", PropText(ev, ical.PropSummary))
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=3", ev.Props.Get(ical.PropRecurrenceRule).Value)
	assert.Equal(t, "DATE", ev.Props.Get(ical.PropExceptionDates).Params.Get("VALUE"))

	_, err = ParseJSON([]byte(`{"not": "jcal"}`))
	assert.Error(t, err)
}

func TestSystemResolver_VendorPrefix(t *testing.T) {
	if _, err := time.LoadLocation("Europe/Berlin"); err != nil {
		t.Skip("tzdata not available")
	}
	loc, err := SystemResolver.Resolve("/mozilla.org/20050126_1/Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	_, err = SystemResolver.Resolve("Nowhere/Special")
	assert.Error(t, err)
}
