package xml

import (
	"errors"

	"github.com/beevik/etree"
)

var (
	// ErrEmptyBody is returned for a REPORT without a body.
	ErrEmptyBody = errors.New("empty request body")
	// ErrUnsupportedReport is returned for report types other than
	// calendar-query, calendar-multiget and free-busy-query.
	ErrUnsupportedReport = errors.New("unsupported report")
	// ErrInvalidRequest wraps every structural problem in a request body.
	ErrInvalidRequest = errors.New("invalid report request")
)

// Precondition names reported in DAV:error bodies.
const (
	CondValidFilter           = "valid-filter"
	CondSupportedCollation    = "supported-collation"
	CondValidCalendarData     = "valid-calendar-data"
	CondSupportedCalendarData = "supported-calendar-data"
	CondSupportedComponent    = "supported-calendar-component"
	CondValidCalendarObject   = "valid-calendar-object-resource"
	CondNoUIDConflict         = "no-uid-conflict"
	CondSupportedReport       = "supported-report"
)

// Error represents a WebDAV precondition error
type Error struct {
	Condition string
	Message   string
}

// ToDocument renders the error as a DAV:error body.
func (e *Error) ToDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := createElement("error")
	addNamespaces(root)
	doc.SetRoot(root)

	cond := createElement(e.Condition)
	if e.Message != "" {
		cond.SetText(e.Message)
	}
	root.AddChild(cond)
	return doc
}
