package freebusy

import (
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const (
	propFreeBusy = "FREEBUSY"
	paramFBType  = "FBTYPE"
)

// ProductID is the PRODID of rendered free-busy calendars.
const ProductID = "-//calengine//NONSGML v1.0//EN"

// Render builds the VCALENDAR carrying r as a single VFREEBUSY, stamped
// with now.
func Render(r Report, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	fb := ical.NewComponent(ical.CompFreeBusy)
	fb.Props.SetText(ical.PropUID, uuid.NewString())
	fb.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	if !r.Start.IsZero() {
		fb.Props.SetDateTime(ical.PropDateTimeStart, r.Start.UTC())
	}
	if !r.End.IsZero() {
		fb.Props.SetDateTime(ical.PropDateTimeEnd, r.End.UTC())
	}
	for _, iv := range r.Intervals {
		p := ical.NewProp(propFreeBusy)
		p.Params.Set(paramFBType, iv.Type.String())
		p.Value = document.FormatUTC(iv.Start) + "/" + document.FormatUTC(iv.End)
		fb.Props.Add(p)
	}

	cal.Children = append(cal.Children, fb)
	return cal
}
