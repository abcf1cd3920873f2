package xml

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/filter"
	"github.com/cyp0633/calengine/report"
	"github.com/emersion/go-ical"
)

// ReportKind identifies the REPORT body.
type ReportKind int

const (
	CalendarQuery ReportKind = iota
	CalendarMultiget
	FreeBusyQuery
)

func (k ReportKind) String() string {
	switch k {
	case CalendarQuery:
		return "calendar-query"
	case CalendarMultiget:
		return "calendar-multiget"
	case FreeBusyQuery:
		return "free-busy-query"
	default:
		return "unknown"
	}
}

const timeFormat = "20060102T150405Z"

// ReportRequest is a decoded REPORT body.
type ReportRequest struct {
	Kind ReportKind
	// Props holds the local names of the requested properties.
	Props []string
	// Expand is set when calendar-data carries an <expand> element.
	Expand *report.Expand
	// Filter is set for calendar-query.
	Filter filter.CompFilter
	// Timezone is the TZID from <timezone> or <timezone-id>, if any.
	Timezone string
	// TimezoneDef is the VTIMEZONE carried by <timezone>.
	TimezoneDef *ical.Component
	// Hrefs is set for calendar-multiget.
	Hrefs []string
	// Start and End bound a free-busy-query.
	Start time.Time
	End   time.Time
}

// Request converts the prop selection for the report orchestrator.
func (r *ReportRequest) Request() report.Request {
	return report.Request{Props: r.Props, Expand: r.Expand}
}

// ParseReport decodes a REPORT request body.
func ParseReport(data []byte) (*ReportRequest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyBody
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrEmptyBody
	}

	r := &ReportRequest{}
	var err error
	switch root.Tag {
	case "calendar-query":
		r.Kind = CalendarQuery
		err = r.parseCalendarQuery(root)
	case "calendar-multiget":
		r.Kind = CalendarMultiget
		err = r.parseCalendarMultiget(root)
	case "free-busy-query":
		r.Kind = FreeBusyQuery
		err = r.parseFreeBusyQuery(root)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedReport, root.Tag)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ReportRequest) parseCalendarQuery(root *etree.Element) error {
	if err := r.parseProp(root); err != nil {
		return err
	}

	filterElem := childNamed(root, "filter")
	if filterElem == nil {
		return fmt.Errorf("%w: calendar-query without filter", ErrInvalidRequest)
	}
	f, err := ParseFilterElement(filterElem)
	if err != nil {
		return err
	}
	r.Filter = f

	if tz := childNamed(root, "timezone-id"); tz != nil {
		r.Timezone = strings.TrimSpace(tz.Text())
	} else if tz := childNamed(root, "timezone"); tz != nil {
		def, err := timezoneDef(tz.Text())
		if err != nil {
			return err
		}
		r.Timezone = document.PropText(def, ical.PropTimezoneID)
		r.TimezoneDef = def
	}
	return nil
}

func (r *ReportRequest) parseCalendarMultiget(root *etree.Element) error {
	if err := r.parseProp(root); err != nil {
		return err
	}
	for _, href := range childrenNamed(root, "href") {
		r.Hrefs = append(r.Hrefs, strings.TrimSpace(href.Text()))
	}
	if len(r.Hrefs) == 0 {
		return fmt.Errorf("%w: calendar-multiget without href", ErrInvalidRequest)
	}
	return nil
}

func (r *ReportRequest) parseFreeBusyQuery(root *etree.Element) error {
	tr := childNamed(root, "time-range")
	if tr == nil {
		return fmt.Errorf("%w: free-busy-query without time-range", ErrInvalidRequest)
	}
	start, end, err := parseBounds(tr)
	if err != nil {
		return err
	}
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return fmt.Errorf("%w: free-busy-query needs start < end", ErrInvalidRequest)
	}
	r.Start, r.End = start, end
	return nil
}

// parseProp collects the requested property names and the calendar-data
// expand window.
func (r *ReportRequest) parseProp(root *etree.Element) error {
	prop := childNamed(root, "prop")
	if prop == nil {
		return nil
	}
	for _, elem := range prop.ChildElements() {
		name := strings.ToLower(elem.Tag)
		r.Props = append(r.Props, name)
		if name != report.PropCalendarData {
			continue
		}
		if exp := childNamed(elem, "expand"); exp != nil {
			start, end, err := parseBounds(exp)
			if err != nil {
				return err
			}
			if start.IsZero() || end.IsZero() || !end.After(start) {
				return fmt.Errorf("%w: expand needs start < end", ErrInvalidRequest)
			}
			r.Expand = &report.Expand{Start: start, End: end}
		}
	}
	return nil
}

// parseBounds reads the start and end attributes; a missing one is zero.
func parseBounds(elem *etree.Element) (time.Time, time.Time, error) {
	var bounds [2]time.Time
	for i, attr := range []string{"start", "end"} {
		v := elem.SelectAttrValue(attr, "")
		if v == "" {
			continue
		}
		t, err := time.Parse(timeFormat, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %s %s=%q", ErrInvalidRequest, elem.Tag, attr, v)
		}
		bounds[i] = t
	}
	return bounds[0], bounds[1], nil
}

// timezoneDef extracts the first VTIMEZONE with a TZID from the calendar
// carried by <timezone>.
func timezoneDef(text string) (*ical.Component, error) {
	doc, err := document.ParseBytes([]byte(strings.TrimSpace(text)))
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", ErrInvalidRequest, err)
	}
	for _, tz := range doc.Timezones() {
		if document.PropText(tz, ical.PropTimezoneID) != "" {
			return tz, nil
		}
	}
	return nil, fmt.Errorf("%w: timezone without VTIMEZONE", ErrInvalidRequest)
}
