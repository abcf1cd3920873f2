package engine

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/filter"
	"github.com/cyp0633/calengine/freebusy"
	"github.com/cyp0633/calengine/recurrence"
	"github.com/cyp0633/calengine/report"
	"github.com/cyp0633/calengine/storage"
	"github.com/cyp0633/calengine/storage/memory"
	"github.com/cyp0633/calengine/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const work = "/calendars/alice/work/"

const standup = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calengine//test//EN
BEGIN:VEVENT
UID:standup
DTSTAMP:20250101T000000Z
DTSTART:20250106T090000Z
DTEND:20250106T091500Z
RRULE:FREQ=DAILY;COUNT=5
SUMMARY:Standup
END:VEVENT
END:VCALENDAR
`

const chore = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calengine//test//EN
BEGIN:VTODO
UID:chore
DTSTAMP:20250101T000000Z
DUE:20250110T170000Z
SUMMARY:Taxes
END:VTODO
END:VCALENDAR
`

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateCollection(context.Background(), &storage.Collection{
		Href:                work,
		SupportedComponents: []string{"VEVENT"},
	}))
	return New(store, opts...)
}

func TestEngine_PutAndGet(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	res, err := e.Put(ctx, work+"standup.ics", []byte(standup), validate.MediaTypeICalendar)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Modified)
	assert.NotEmpty(t, res.ETag)

	obj, err := e.Get(ctx, work+"standup.ics")
	require.NoError(t, err)
	assert.Equal(t, res.ETag, obj.ETag)
	assert.Equal(t, standup, string(obj.Data))
	assert.Equal(t, document.ETag([]byte(standup)), obj.ETag)
	assert.Equal(t, "VEVENT", obj.Index.ComponentType)
	assert.Equal(t, "standup", obj.Index.UID)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), obj.Index.FirstOccurrence)
	assert.Equal(t, time.Date(2025, 1, 10, 9, 15, 0, 0, time.UTC), obj.Index.LastOccurrence)

	res, err = e.Put(ctx, work+"standup.ics", []byte(standup), validate.MediaTypeICalendar)
	require.NoError(t, err)
	assert.False(t, res.Created)

	require.NoError(t, e.Delete(ctx, work+"standup.ics"))
	_, err = e.Get(ctx, work+"standup.ics")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_PutRejects(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.Put(ctx, work+"chore.ics", []byte(chore), validate.MediaTypeICalendar)
	assert.ErrorIs(t, err, validate.ErrUnsupportedComponentType)

	_, err = e.Put(ctx, work, []byte(standup), validate.MediaTypeICalendar)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = e.Put(ctx, "/calendars/alice/missing/a.ics", []byte(standup), validate.MediaTypeICalendar)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngine_PutRepairs(t *testing.T) {
	e := newEngine(t)
	raw := strings.Replace(standup, "PRODID:-//calengine//test//EN\n", "", 1)

	res, err := e.Put(context.Background(), work+"standup.ics", []byte(raw), validate.MediaTypeICalendar)
	require.NoError(t, err)
	assert.True(t, res.Modified)

	obj, err := e.Get(context.Background(), work+"standup.ics")
	require.NoError(t, err)
	assert.Contains(t, string(obj.Data), "PRODID:"+validate.ProductID)
}

func TestEngine_ReadOnlyStore(t *testing.T) {
	e := New(new(storage.MockStorage))
	_, err := e.Put(context.Background(), work+"a.ics", []byte(standup), validate.MediaTypeICalendar)
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, e.Delete(context.Background(), work+"a.ics"), ErrReadOnly)
}

func TestEngine_ValidateForWriteDefaults(t *testing.T) {
	e := New(nil, WithSupportedComponents("VEVENT"))
	_, err := e.ValidateForWrite([]byte(chore), validate.MediaTypeICalendar, nil)
	assert.ErrorIs(t, err, validate.ErrUnsupportedComponentType)

	res, err := e.ValidateForWrite([]byte(chore), validate.MediaTypeICalendar, []string{"VTODO"})
	require.NoError(t, err)
	assert.Equal(t, "VTODO", res.ComponentType)
}

func TestEngine_Reports(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, err := e.Put(ctx, work+"standup.ics", []byte(standup), validate.MediaTypeICalendar)
	require.NoError(t, err)

	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	scope := report.Scope{Href: work, Depth: report.Depth1}

	items, err := e.RunQueryReport(ctx, scope, filter.VCalendarEvents(day(8), day(9)), report.Request{Props: []string{report.PropETag}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, work+"standup.ics", items[0].Href)

	items, err = e.RunQueryReport(ctx, scope, filter.VCalendarEvents(day(11), day(12)), report.Request{})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = e.RunMultigetReport(ctx, scope, []string{work + "standup.ics", work + "nope.ics"}, report.Request{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, http.StatusOK, items[0].Status)
	assert.Equal(t, http.StatusNotFound, items[1].Status)

	fb, err := e.RunFreeBusyReport(ctx, scope, day(7), day(9))
	require.NoError(t, err)
	assert.Equal(t, []freebusy.Interval{
		{Start: time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 7, 9, 15, 0, 0, time.UTC), Type: freebusy.Busy},
		{Start: time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 8, 9, 15, 0, 0, time.UTC), Type: freebusy.Busy},
	}, fb.Intervals)
}

func TestEngine_QueryFloatingInRequestZone(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	ctx := context.Background()
	e := newEngine(t)

	late := strings.NewReplacer("UID:standup", "UID:late",
		"DTSTART:20250106T090000Z", "DTSTART:20250601T230000",
		"DTEND:20250106T091500Z", "DTEND:20250601T235900",
		"RRULE:FREQ=DAILY;COUNT=5\n", "").Replace(standup)
	_, err = e.Put(ctx, work+"late.ics", []byte(late), "text/calendar")
	require.NoError(t, err)

	f := filter.VCalendarEvents(
		time.Date(2025, 6, 2, 5, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC),
	)
	items, err := e.RunQueryReport(ctx, report.Scope{Href: work, Depth: report.Depth1}, f, report.Request{})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = e.RunQueryReport(ctx, report.Scope{Href: work, Depth: report.Depth1, Timezone: la}, f, report.Request{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, work+"late.ics", items[0].Href)
}

func TestEngine_RequestZone(t *testing.T) {
	cal, err := document.ParseBytes([]byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calengine//test//EN\r\n" +
		"BEGIN:VTIMEZONE\r\nTZID:Custom/Zone\r\nBEGIN:STANDARD\r\nDTSTART:19700101T000000\r\n" +
		"TZOFFSETFROM:+0900\r\nTZOFFSETTO:+0900\r\nEND:STANDARD\r\nEND:VTIMEZONE\r\nEND:VCALENDAR\r\n"))
	require.NoError(t, err)
	def := cal.Timezones()[0]
	e := New(nil)
	wall := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)

	z, err := e.RequestZone("UTC", def)
	require.NoError(t, err)
	assert.Equal(t, wall, z.Localize(wall))

	_, err = e.RequestZone("Custom/Zone", nil)
	assert.Error(t, err)

	z, err = e.RequestZone("Custom/Zone", def)
	require.NoError(t, err)
	assert.Equal(t, wall.Add(-9*time.Hour), z.Localize(wall))
}

func TestEngine_EvaluateFilter(t *testing.T) {
	floating := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calengine//test//EN
BEGIN:VEVENT
UID:floating
DTSTAMP:20250101T000000Z
DTSTART:20250110T090000
DTEND:20250110T100000
END:VEVENT
END:VCALENDAR
`
	doc, err := document.ParseBytes([]byte(floating))
	require.NoError(t, err)
	tokyo := time.FixedZone("JST", 9*60*60)
	f := filter.VCalendarEvents(
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC),
	)

	e := New(nil)
	ok, err := e.EvaluateFilter(doc, f, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.EvaluateFilter(doc, f, tokyo)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_ExpandRecurrence(t *testing.T) {
	e := New(nil)
	set := recurrence.Set{
		Start: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		Rules: []string{"FREQ=DAILY;COUNT=5"},
		ExDates: []recurrence.ExDate{
			{Time: time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)},
		},
	}
	w := recurrence.Window{
		Start: time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Span:  time.Hour,
	}

	got := e.ExpandRecurrence(set, w)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC), got[0].Start)
	assert.Equal(t, time.Date(2025, 1, 9, 9, 0, 0, 0, time.UTC), got[1].Start)
}

func TestEngine_ComputeFreeBusy(t *testing.T) {
	doc, err := document.ParseBytes([]byte(standup))
	require.NoError(t, err)

	e := New(nil)
	r := e.ComputeFreeBusy([]*document.Document{doc},
		time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), nil)
	assert.Len(t, r.Intervals, 2)
}
