// Package storage defines the store the engine reads calendar objects from.
// The engine never persists anything itself; hosts plug their backend in
// through these interfaces.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cyp0633/calengine/document"
)

// Storage is the read side used by reports.
type Storage interface {
	// Fetch returns the object stored at href, or ErrNotFound.
	Fetch(ctx context.Context, href string) (*Object, error)
	// List returns the hrefs of all objects directly inside collection, in a
	// stable order.
	List(ctx context.Context, collection string) ([]string, error)
	// Collection returns the metadata of the collection at href, or
	// ErrNotFound when href is not a collection.
	Collection(ctx context.Context, href string) (*Collection, error)
}

// Writer is implemented by stores that accept validated objects.
type Writer interface {
	// Put stores obj at href, creating or replacing it, and returns the new
	// ETag. The parent collection must exist.
	Put(ctx context.Context, href string, obj *Object) (etag string, err error)
	// Delete removes the object at href.
	Delete(ctx context.Context, href string) error
	// CreateCollection creates an empty collection.
	CreateCollection(ctx context.Context, col *Collection) error
}

// Querier is implemented by stores that can narrow calendar-query candidates
// using the denormalized index before the evaluator runs. The result must be
// a superset of the real matches.
type Querier interface {
	Prefilter(ctx context.Context, collection string, q Prefilter) ([]string, error)
}

// Prefilter narrows candidates by component type and an outer time-range.
// Zero values are unconstrained.
type Prefilter struct {
	ComponentType string
	Start         time.Time
	End           time.Time
}

// Admits reports whether an object with the given index may match. Objects
// stored without an index, or without known occurrence bounds, are always
// admitted. Bounds of floating objects are widened by document.FloatingSkew
// since the query may read them in another zone.
func (p Prefilter) Admits(idx document.Index) bool {
	if idx.ComponentType == "" {
		return true
	}
	if p.ComponentType != "" && !strings.EqualFold(p.ComponentType, idx.ComponentType) {
		return false
	}
	if idx.FirstOccurrence.IsZero() {
		return true
	}
	var skew time.Duration
	if idx.Floating {
		skew = document.FloatingSkew
	}
	if !p.End.IsZero() && idx.FirstOccurrence.Add(-skew).After(p.End) {
		return false
	}
	if !p.Start.IsZero() && idx.LastOccurrence.Add(skew).Before(p.Start) && !idx.LastOccurrence.Equal(document.MaxDate) {
		return false
	}
	return true
}

// Object is a stored calendar object resource.
type Object struct {
	// Href is the object's path, e.g. "/calendars/alice/work/event1.ics".
	// It has nothing to do with the iCalendar UID.
	Href string
	// Data is the canonical iCalendar serialization.
	Data []byte
	// ETag changes whenever Data changes. Stores derive it with
	// document.ETag unless set by the caller.
	ETag     string
	Modified time.Time
	// Index holds the denormalized fields computed at write time.
	Index document.Index
}

// Collection is a calendar collection.
type Collection struct {
	// Href ends with a slash.
	Href        string
	DisplayName string
	// SupportedComponents lists the component types objects may contain.
	// Empty means VEVENT, VTODO and VJOURNAL.
	SupportedComponents []string
	// Timezone is the IANA name used for floating times. Empty means UTC.
	Timezone string
	// CTag changes when any member changes.
	CTag string
}

var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrConflict is returned when there's a conflict with an existing resource
	ErrConflict = errors.New("resource conflict")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)
