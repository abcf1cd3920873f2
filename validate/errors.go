package validate

import (
	"errors"
	"fmt"
)

// Kind classifies a validation failure.
type Kind string

const (
	KindParse                    Kind = "parse_error"
	KindUnsupportedMediaType     Kind = "unsupported_media_type"
	KindUnsupportedComponentType Kind = "unsupported_component_type"
	KindMissingRequiredProperty  Kind = "missing_required_property"
	KindInvalidDocument          Kind = "invalid_document"
)

// Sentinels for errors.Is; every *Error matches the one of its Kind.
var (
	ErrParse                    = errors.New("malformed calendar data")
	ErrUnsupportedMediaType     = errors.New("unsupported media type")
	ErrUnsupportedComponentType = errors.New("unsupported component type")
	ErrMissingRequiredProperty  = errors.New("missing required property")
	ErrInvalidDocument          = errors.New("invalid calendar document")
)

var sentinels = map[Kind]error{
	KindParse:                    ErrParse,
	KindUnsupportedMediaType:     ErrUnsupportedMediaType,
	KindUnsupportedComponentType: ErrUnsupportedComponentType,
	KindMissingRequiredProperty:  ErrMissingRequiredProperty,
	KindInvalidDocument:          ErrInvalidDocument,
}

// Error is a write-path validation failure. Field names the offending
// property or rule, e.g. "UID" or "component-type".
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}
