// Package document wraps the go-ical component tree with the typed accessors
// the query engine needs: date-times with their zone reference, durations,
// recurrence sets, series grouping and denormalized metadata.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-ical"
)

// Primary component names a stored calendar object may be built around.
var PrimaryComponents = []string{ical.CompEvent, ical.CompToDo, ical.CompJournal}

// ErrNoCalendar is returned when a stream holds no VCALENDAR.
var ErrNoCalendar = errors.New("document: no calendar in input")

// Document is a parsed calendar object. The tree is owned by the caller and
// is never cached by this package.
type Document struct {
	Calendar *ical.Calendar
}

// New wraps an existing calendar tree.
func New(cal *ical.Calendar) *Document {
	return &Document{Calendar: cal}
}

// Parse decodes a single iCalendar stream.
func Parse(r io.Reader) (*Document, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoCalendar
		}
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	return &Document{Calendar: cal}, nil
}

// ParseBytes decodes raw iCalendar bytes.
func ParseBytes(data []byte) (*Document, error) {
	return Parse(bytes.NewReader(data))
}

// Encode serializes the document in canonical iCalendar form.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(d.Calendar); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// Root returns the top-level container component.
func (d *Document) Root() *ical.Component {
	if d == nil || d.Calendar == nil {
		return nil
	}
	return d.Calendar.Component
}

// Components returns the top-level components other than VTIMEZONE.
func (d *Document) Components() []*ical.Component {
	var out []*ical.Component
	for _, child := range d.Root().Children {
		if child.Name != ical.CompTimezone {
			out = append(out, child)
		}
	}
	return out
}

// Timezones returns the inline VTIMEZONE definitions.
func (d *Document) Timezones() []*ical.Component {
	var out []*ical.Component
	for _, child := range d.Root().Children {
		if child.Name == ical.CompTimezone {
			out = append(out, child)
		}
	}
	return out
}

// ComponentType returns the name of the first non-timezone component.
func (d *Document) ComponentType() string {
	comps := d.Components()
	if len(comps) == 0 {
		return ""
	}
	return comps[0].Name
}

// UID returns the UID of the first non-timezone component.
func (d *Document) UID() string {
	for _, comp := range d.Components() {
		if uid := PropText(comp, ical.PropUID); uid != "" {
			return uid
		}
	}
	return ""
}

// IsPrimary reports whether name may be the primary type of a stored object.
func IsPrimary(name string) bool {
	for _, p := range PrimaryComponents {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// PropText returns the unescaped text of the first property called name, or
// its raw value when it is not a text property.
func PropText(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	return Text(p)
}

// Text returns the unescaped text of p, falling back to the raw value.
func Text(p *ical.Prop) string {
	if s, err := p.Text(); err == nil {
		return s
	}
	return p.Value
}

// Equal compares two documents component-, property- and value-wise.
func Equal(a, b *Document) bool {
	return equalComponent(a.Root(), b.Root())
}

func equalComponent(a, b *ical.Component) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || len(a.Props) != len(b.Props) || len(a.Children) != len(b.Children) {
		return false
	}
	for name, av := range a.Props {
		bv, ok := b.Props[name]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalProp(&av[i], &bv[i]) {
				return false
			}
		}
	}
	for i := range a.Children {
		if !equalComponent(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

func equalProp(a, b *ical.Prop) bool {
	if a.Name != b.Name || a.Value != b.Value || len(a.Params) != len(b.Params) {
		return false
	}
	for k, av := range a.Params {
		bv, ok := b.Params[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}
