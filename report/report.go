// Package report answers calendar-query, calendar-multiget and
// free-busy-query REPORTs against a storage.Storage.
//
// Candidates are fetched, parsed and evaluated concurrently, bounded by the
// configured concurrency; results always come back in candidate order.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/recurrence"
	"github.com/cyp0633/calengine/storage"
	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrDepth is returned for a collection query with Depth: 0.
	ErrDepth = errors.New("depth 0 query on a collection")
	// ErrNotCalendar is returned when a free-busy query targets an object.
	ErrNotCalendar = errors.New("target is not a calendar collection")
	// ErrPropNotFound marks a requested property the item does not have.
	ErrPropNotFound = errors.New("property not found")
)

// Depth is the value of the Depth request header.
type Depth int

const (
	Depth0 Depth = iota
	Depth1
	DepthInfinity
)

// Scope is the request target of a REPORT.
type Scope struct {
	Href  string
	Depth Depth
	// Timezone overrides the collection's zone for floating times.
	Timezone *time.Location
	// Zone takes precedence over Timezone. It carries request zones that
	// have no IANA location, such as an inline VTIMEZONE.
	Zone document.Zone
}

// Expand asks for calendar-data with the recurrence set expanded.
type Expand struct {
	Start time.Time
	End   time.Time
}

// Request selects the properties returned per item.
type Request struct {
	// Props holds local names such as "getetag" or "calendar-data".
	Props  []string
	Expand *Expand
}

// Property names understood by the resolver table.
const (
	PropETag          = "getetag"
	PropCalendarData  = "calendar-data"
	PropContentLength = "getcontentlength"
	PropLastModified  = "getlastmodified"
)

// Item is one response entry.
type Item struct {
	Href   string
	Status int
	// Document is nil for 404 items and for stored objects that failed to
	// parse.
	Document *document.Document
	Props    map[string]mo.Result[string]
}

// Orchestrator runs reports. It holds only configuration and is safe for
// concurrent use.
type Orchestrator struct {
	store         storage.Storage
	resolver      document.Resolver
	floating      *time.Location
	maxIterations int
	concurrency   int
	lenientDepth  bool
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithResolver sets the TZID resolver.
func WithResolver(r document.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithDefaultZone sets the floating zone used when neither the request nor
// the collection names one.
func WithDefaultZone(loc *time.Location) Option {
	return func(o *Orchestrator) { o.floating = loc }
}

// WithMaxIterations sets the recurrence expansion cap.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) { o.maxIterations = n }
}

// WithConcurrency bounds the number of candidates processed at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithLenientDepth treats Depth: 0 on a collection as Depth: 1.
func WithLenientDepth(lenient bool) Option {
	return func(o *Orchestrator) { o.lenientDepth = lenient }
}

// New creates an Orchestrator reading from store.
func New(store storage.Storage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		resolver:      document.SystemResolver,
		floating:      time.UTC,
		maxIterations: recurrence.DefaultMaxIterations,
		concurrency:   8,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// fanOut runs fn over every href with bounded concurrency and returns the
// non-nil results in input order. The first error cancels the rest.
func (o *Orchestrator) fanOut(ctx context.Context, hrefs []string, fn func(context.Context, string) (*Item, error)) ([]Item, error) {
	results := make([]*Item, len(hrefs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, href := range hrefs {
		g.Go(func() error {
			item, err := fn(gctx, href)
			if err != nil {
				return err
			}
			results[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(hrefs))
	for _, item := range results {
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

// zone picks the floating zone: the request's, then the collection's, then
// the configured default.
func (o *Orchestrator) zone(scope Scope, col *storage.Collection) document.Zone {
	if scope.Zone != nil {
		return scope.Zone
	}
	if scope.Timezone != nil {
		return document.LocationZone(scope.Timezone)
	}
	if col != nil && col.Timezone != "" && o.resolver != nil {
		if loc, err := o.resolver.Resolve(col.Timezone); err == nil {
			return document.LocationZone(loc)
		}
		o.logger.Warn("unknown collection timezone", "collection", col.Href, "timezone", col.Timezone)
	}
	return document.LocationZone(o.floating)
}

// fetch wraps store failures other than not-found.
func (o *Orchestrator) fetch(ctx context.Context, href string) (*storage.Object, error) {
	obj, err := o.store.Fetch(ctx, href)
	if err == nil {
		return obj, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	o.logger.Error("store fetch failed", "href", href, "error", err)
	return nil, fmt.Errorf("fetch %s: %w", href, err)
}

func notFound(href string) *Item {
	return &Item{Href: href, Status: http.StatusNotFound}
}
