// Package validate checks calendar objects submitted for storage and brings
// them into canonical iCalendar form.
package validate

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/emersion/go-ical"
)

// Media types accepted on the write path.
const (
	MediaTypeICalendar = "text/calendar"
	MediaTypeJCal      = "application/calendar+json"
)

// ProductID is written into documents that arrive without one.
const ProductID = "-//calengine//NONSGML v1.0//EN"

// Result is a validated calendar object.
type Result struct {
	Document *document.Document
	// Canonical is the iCalendar serialization to persist. It is the input
	// itself unless Modified is set.
	Canonical []byte
	// Modified reports that Canonical differs from the input bytes, either
	// because it was converted from jCal or because it was repaired.
	Modified      bool
	ComponentType string
	UID           string
}

// Validator applies the write-path rules.
type Validator struct {
	now func() time.Time
}

// New creates a Validator.
func New() *Validator {
	return &Validator{now: time.Now}
}

// ForWrite parses raw and validates it for storage in a collection that
// supports the given component types. An empty supported set means
// VEVENT, VTODO and VJOURNAL.
func (v *Validator) ForWrite(raw []byte, mediaType string, supported []string) (*Result, error) {
	if len(supported) == 0 {
		supported = document.PrimaryComponents
	}

	doc, modified, err := v.decode(raw, mediaType)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || root.Name != ical.CompCalendar {
		return nil, newError(KindUnsupportedMediaType, "", "root component must be VCALENDAR")
	}

	typ, uid, err := checkComponents(doc)
	if err != nil {
		return nil, err
	}
	if !contains(supported, typ) {
		return nil, newError(KindUnsupportedComponentType, "component-type",
			"%s is not supported here, expected one of %s", typ, strings.Join(supported, ", "))
	}

	if v.repair(doc) {
		modified = true
	}

	canonical := raw
	if modified {
		canonical, err = doc.Encode()
		if err != nil {
			return nil, &Error{Kind: KindInvalidDocument, Message: "cannot serialize calendar", Err: err}
		}
	}
	return &Result{
		Document:      doc,
		Canonical:     canonical,
		Modified:      modified,
		ComponentType: typ,
		UID:           uid,
	}, nil
}

// ForWrite validates with a default Validator.
func ForWrite(raw []byte, mediaType string, supported []string) (*Result, error) {
	return New().ForWrite(raw, mediaType, supported)
}

func (v *Validator) decode(raw []byte, mediaType string) (*document.Document, bool, error) {
	if isJCal(raw, mediaType) {
		name, err := document.JSONRootName(raw)
		if err != nil {
			return nil, false, &Error{Kind: KindParse, Message: "malformed jCal", Err: err}
		}
		if !strings.EqualFold(name, ical.CompCalendar) {
			return nil, false, newError(KindUnsupportedMediaType, "", "root component must be vcalendar, got %q", name)
		}
		doc, err := document.ParseJSON(raw)
		if err != nil {
			return nil, false, &Error{Kind: KindParse, Message: "malformed jCal", Err: err}
		}
		return doc, true, nil
	}

	if name := firstBegin(raw); name != "" && !strings.EqualFold(name, ical.CompCalendar) {
		return nil, false, newError(KindUnsupportedMediaType, "", "root component must be VCALENDAR, got %s", name)
	}
	doc, err := document.ParseBytes(raw)
	if err != nil {
		if errors.Is(err, document.ErrNoCalendar) {
			return nil, false, &Error{Kind: KindUnsupportedMediaType, Message: "no calendar data", Err: err}
		}
		return nil, false, &Error{Kind: KindParse, Message: "malformed iCalendar", Err: err}
	}
	return doc, false, nil
}

// checkComponents enforces the one-type, one-UID rule and returns the
// primary type and UID.
func checkComponents(doc *document.Document) (string, string, error) {
	var (
		typ, uid string
		master   bool
		rids     = make(map[string]bool)
	)
	for _, comp := range doc.Components() {
		if !document.IsPrimary(comp.Name) {
			return "", "", newError(KindInvalidDocument, "component-type",
				"%s is not allowed at the top level", comp.Name)
		}
		if typ == "" {
			typ = comp.Name
		} else if comp.Name != typ {
			return "", "", newError(KindInvalidDocument, "component-type",
				"found %s in a %s object", comp.Name, typ)
		}

		id := document.PropText(comp, ical.PropUID)
		if id == "" {
			return "", "", newError(KindMissingRequiredProperty, ical.PropUID, "every %s needs a UID", comp.Name)
		}
		if uid == "" {
			uid = id
		} else if id != uid {
			return "", "", newError(KindInvalidDocument, ical.PropUID,
				"UID %q differs from %q", id, uid)
		}

		if rid := comp.Props.Get(document.PropRecurrenceID); rid != nil {
			if rids[rid.Value] {
				return "", "", newError(KindInvalidDocument, document.PropRecurrenceID,
					"duplicate RECURRENCE-ID %s", rid.Value)
			}
			rids[rid.Value] = true
			continue
		}
		if master {
			return "", "", newError(KindInvalidDocument, document.PropRecurrenceID,
				"more than one %s without RECURRENCE-ID", comp.Name)
		}
		master = true
	}
	if typ == "" {
		return "", "", newError(KindUnsupportedComponentType, "component-type",
			"calendar object must contain a VEVENT, VTODO or VJOURNAL")
	}
	return typ, uid, nil
}

// repair fills in PRODID, VERSION and DTSTAMP and reports whether anything
// was added.
func (v *Validator) repair(doc *document.Document) bool {
	root := doc.Root()
	changed := false
	if root.Props.Get(ical.PropProductID) == nil {
		root.Props.SetText(ical.PropProductID, ProductID)
		changed = true
	}
	if root.Props.Get(ical.PropVersion) == nil {
		root.Props.SetText(ical.PropVersion, "2.0")
		changed = true
	}
	for _, comp := range doc.Components() {
		if comp.Props.Get(ical.PropDateTimeStamp) == nil {
			comp.Props.SetDateTime(ical.PropDateTimeStamp, v.now().UTC())
			changed = true
		}
	}
	return changed
}

func isJCal(raw []byte, mediaType string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), MediaTypeJCal) {
		return true
	}
	return bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n\ufeff"), []byte("["))
}

// firstBegin returns the component name on the first BEGIN line of raw.
func firstBegin(raw []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, ok := strings.CutPrefix(strings.ToUpper(line), "BEGIN:")
		if !ok {
			return ""
		}
		return name
	}
	return ""
}

func contains(set []string, name string) bool {
	for _, s := range set {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
