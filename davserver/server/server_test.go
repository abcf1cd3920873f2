package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/calengine/davserver/interfaces"
	"github.com/cyp0633/calengine/engine"
	"github.com/cyp0633/calengine/storage"
	"github.com/cyp0633/calengine/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const event = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calengine//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:review\r\nDTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250110T090000Z\r\nDTEND:20250110T100000Z\r\nSUMMARY:Review\r\n" +
	"END:VEVENT\r\nEND:VCALENDAR\r\n"

const queryBody = `<?xml version="1.0" encoding="utf-8"?>
<C:calendar-query xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:D="DAV:">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="20250110T000000Z" end="20250111T000000Z"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateCollection(context.Background(), &storage.Collection{
		Href:                "/alice/work/",
		SupportedComponents: []string{"VEVENT"},
	}))
	e := engine.New(store)
	srv := New(interfaces.NewConfig(e, interfaces.WithURLPrefix("/dav")))
	srv.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func putEvent(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, _ := do(t, http.MethodPut, ts.URL+"/dav/alice/work/review.ics", event,
		map[string]string{"Content-Type": "text/calendar; charset=utf-8"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return resp.Header.Get("ETag")
}

func TestServer_PutGetDelete(t *testing.T) {
	ts := setupServer(t)
	etag := putEvent(t, ts)
	assert.NotEmpty(t, etag)

	resp, body := do(t, http.MethodGet, ts.URL+"/dav/alice/work/review.ics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, etag, resp.Header.Get("ETag"))
	assert.Equal(t, event, body)
	assert.Equal(t, "1, 3, calendar-access", resp.Header.Get("DAV"))

	resp, _ = do(t, http.MethodPut, ts.URL+"/dav/alice/work/review.ics", event,
		map[string]string{"If-None-Match": "*"})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, ts.URL+"/dav/alice/work/review.ics", event,
		map[string]string{"If-Match": etag})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/dav/alice/work/review.ics", "",
		map[string]string{"If-Match": `"stale"`})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/dav/alice/work/review.ics", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/dav/alice/work/review.ics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_PutModifiedOmitsETag(t *testing.T) {
	ts := setupServer(t)
	raw := strings.Replace(event, "PRODID:-//calengine//test//EN\r\n", "", 1)

	resp, _ := do(t, http.MethodPut, ts.URL+"/dav/alice/work/review.ics", raw, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("ETag"))
}

func TestServer_PutRejects(t *testing.T) {
	ts := setupServer(t)
	todo := strings.NewReplacer("VEVENT", "VTODO", "DTEND", "DUE").Replace(event)

	resp, body := do(t, http.MethodPut, ts.URL+"/dav/alice/work/todo.ics", todo, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "supported-calendar-component")

	resp, body = do(t, http.MethodPut, ts.URL+"/dav/alice/work/bad.ics", "BEGIN:VCARD\r\nEND:VCARD\r\n", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Contains(t, body, "supported-calendar-data")
}

func TestServer_CalendarQuery(t *testing.T) {
	ts := setupServer(t)
	etag := putEvent(t, ts)

	resp, body := do(t, "REPORT", ts.URL+"/dav/alice/work/", queryBody, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, body, "<d:href>/dav/alice/work/review.ics</d:href>")
	assert.Contains(t, body, strings.Trim(etag, `"`))
	assert.Contains(t, body, "UID:review")
	assert.Contains(t, body, "HTTP/1.1 200 OK")
}

func TestServer_CalendarQueryInlineTimezone(t *testing.T) {
	ts := setupServer(t)
	late := strings.NewReplacer("UID:review", "UID:late",
		"DTSTART:20250110T090000Z", "DTSTART:20250110T230000",
		"DTEND:20250110T100000Z", "DTEND:20250110T233000").Replace(event)
	resp, _ := do(t, http.MethodPut, ts.URL+"/dav/alice/work/late.ics", late,
		map[string]string{"Content-Type": "text/calendar"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	query := func(timezone string) string {
		return `<C:calendar-query xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:D="DAV:">
  <D:prop><D:getetag/></D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="20250110T140000Z" end="20250110T150000Z"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>` + timezone + `
</C:calendar-query>`
	}
	zone := `<C:timezone>BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VTIMEZONE
TZID:Tokyo Standard Time
BEGIN:STANDARD
DTSTART:16010101T000000
TZOFFSETFROM:+0900
TZOFFSETTO:+0900
END:STANDARD
END:VTIMEZONE
END:VCALENDAR
</C:timezone>`

	resp, body := do(t, "REPORT", ts.URL+"/dav/alice/work/", query(""), map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.NotContains(t, body, "late.ics")

	resp, body = do(t, "REPORT", ts.URL+"/dav/alice/work/", query(zone), map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, body, "<d:href>/dav/alice/work/late.ics</d:href>")
}

func TestServer_CalendarQueryDepth(t *testing.T) {
	ts := setupServer(t)
	putEvent(t, ts)

	resp, _ := do(t, "REPORT", ts.URL+"/dav/alice/work/", queryBody, map[string]string{"Depth": "0"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, "REPORT", ts.URL+"/dav/alice/work/", queryBody, map[string]string{
		"Depth":      "0",
		"User-Agent": "MSFT-WIN-3/6.3",
	})
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, body, "review.ics")
}

func TestServer_InvalidFilter(t *testing.T) {
	ts := setupServer(t)
	body := `<C:calendar-query xmlns:C="urn:ietf:params:xml:ns:caldav">
  <C:filter><C:comp-filter name="VEVENT"/></C:filter></C:calendar-query>`

	resp, out := do(t, "REPORT", ts.URL+"/dav/alice/work/", body, map[string]string{"Depth": "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out, "valid-filter")
}

func TestServer_Multiget(t *testing.T) {
	ts := setupServer(t)
	putEvent(t, ts)
	body := `<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/></D:prop>
  <D:href>/dav/alice/work/review.ics</D:href>
  <D:href>/dav/alice/work/missing.ics</D:href>
</C:calendar-multiget>`

	resp, out := do(t, "REPORT", ts.URL+"/dav/alice/work/", body, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Contains(t, out, "<d:href>/dav/alice/work/missing.ics</d:href><d:status>HTTP/1.1 404 Not Found</d:status>")
	assert.Contains(t, out, "<d:href>/dav/alice/work/review.ics</d:href>")
}

func TestServer_FreeBusy(t *testing.T) {
	ts := setupServer(t)
	putEvent(t, ts)
	body := `<C:free-busy-query xmlns:C="urn:ietf:params:xml:ns:caldav">
  <C:time-range start="20250110T000000Z" end="20250111T000000Z"/>
</C:free-busy-query>`

	resp, out := do(t, "REPORT", ts.URL+"/dav/alice/work/", body, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"))
	assert.Contains(t, out, "BEGIN:VFREEBUSY")
	assert.Contains(t, out, "FREEBUSY;FBTYPE=BUSY:20250110T090000Z/20250110T100000Z")

	resp, _ = do(t, "REPORT", ts.URL+"/dav/alice/work/review.ics", body, nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServer_Methods(t *testing.T) {
	ts := setupServer(t)

	resp, _ := do(t, http.MethodOptions, ts.URL+"/dav/", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), "REPORT")

	resp, _ = do(t, "PROPPATCH", ts.URL+"/dav/alice/work/", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/elsewhere/x.ics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, out := do(t, "REPORT", ts.URL+"/dav/alice/work/", `<D:sync-collection xmlns:D="DAV:"/>`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, out, "supported-report")
}

func TestParseDepth(t *testing.T) {
	tests := map[string]int{"": 0, "0": 0, "1": 1, "infinity": 2, "Infinity": 2}
	for header, want := range tests {
		assert.Equal(t, want, int(parseDepth(header)), header)
	}
}
