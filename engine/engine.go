// Package engine is the entry point for transports. It ties the write-path
// validator, the filter evaluator, recurrence expansion and the report
// orchestrator to one storage collaborator and one set of options.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/filter"
	"github.com/cyp0633/calengine/freebusy"
	"github.com/cyp0633/calengine/recurrence"
	"github.com/cyp0633/calengine/report"
	"github.com/cyp0633/calengine/storage"
	"github.com/cyp0633/calengine/validate"
	"github.com/emersion/go-ical"
)

// ErrReadOnly is returned by Put and Delete when the store cannot write.
var ErrReadOnly = errors.New("store is read-only")

type config struct {
	logger        *slog.Logger
	resolver      document.Resolver
	floating      *time.Location
	maxIterations int
	concurrency   int
	lenientDepth  bool
	supported     []string
}

// Option configures an Engine.
type Option func(*config)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithResolver sets the TZID resolver.
func WithResolver(r document.Resolver) Option {
	return func(c *config) { c.resolver = r }
}

// WithDefaultZone sets the zone floating times are read in when neither the
// request nor the collection names one.
func WithDefaultZone(loc *time.Location) Option {
	return func(c *config) { c.floating = loc }
}

// WithMaxIterations sets the recurrence expansion cap.
func WithMaxIterations(n int) Option {
	return func(c *config) { c.maxIterations = n }
}

// WithConcurrency bounds parallel candidate evaluation in reports.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

// WithLenientDepth treats Depth: 0 on a collection query as Depth: 1.
func WithLenientDepth(lenient bool) Option {
	return func(c *config) { c.lenientDepth = lenient }
}

// WithSupportedComponents sets the component types accepted for collections
// that do not declare their own.
func WithSupportedComponents(types ...string) Option {
	return func(c *config) { c.supported = types }
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg       config
	store     storage.Storage
	validator *validate.Validator
	reports   *report.Orchestrator
	evaluator *filter.Evaluator
}

// New creates an Engine over store.
func New(store storage.Storage, opts ...Option) *Engine {
	cfg := config{
		resolver:      document.SystemResolver,
		floating:      time.UTC,
		maxIterations: recurrence.DefaultMaxIterations,
		concurrency:   8,
		supported:     document.PrimaryComponents,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		cfg:       cfg,
		store:     store,
		validator: validate.New(),
		reports: report.New(store,
			report.WithLogger(cfg.logger),
			report.WithResolver(cfg.resolver),
			report.WithDefaultZone(cfg.floating),
			report.WithMaxIterations(cfg.maxIterations),
			report.WithConcurrency(cfg.concurrency),
			report.WithLenientDepth(cfg.lenientDepth),
		),
		evaluator: filter.NewEvaluator(
			filter.WithResolver(cfg.resolver),
			filter.WithDefaultZone(cfg.floating),
			filter.WithMaxIterations(cfg.maxIterations),
			filter.WithLogger(cfg.logger),
		),
	}
}

// Logger returns the configured logger.
func (e *Engine) Logger() *slog.Logger {
	return e.cfg.logger
}

// ValidateForWrite checks raw for storage in a collection supporting the
// given component types; nil falls back to the engine default.
func (e *Engine) ValidateForWrite(raw []byte, mediaType string, supported []string) (*validate.Result, error) {
	if len(supported) == 0 {
		supported = e.cfg.supported
	}
	return e.validator.ForWrite(raw, mediaType, supported)
}

// EvaluateFilter reports whether doc matches f. A nil loc uses the engine's
// default zone for floating times.
func (e *Engine) EvaluateFilter(doc *document.Document, f filter.CompFilter, loc *time.Location) (bool, error) {
	if loc == nil {
		return e.evaluator.Match(doc, f)
	}
	ev := filter.NewEvaluator(
		filter.WithResolver(e.cfg.resolver),
		filter.WithDefaultZone(loc),
		filter.WithMaxIterations(e.cfg.maxIterations),
		filter.WithLogger(e.cfg.logger),
	)
	return ev.Match(doc, f)
}

// ExpandRecurrence returns the occurrences of set inside w. Hitting the
// iteration cap ends the sequence early and is only logged.
func (e *Engine) ExpandRecurrence(set recurrence.Set, w recurrence.Window) []recurrence.Occurrence {
	occurrences, aborted := recurrence.Expand(set, w, e.cfg.maxIterations)
	if aborted {
		e.cfg.logger.Warn("recurrence expansion hit the iteration cap",
			"start", set.Start,
			"max_iterations", e.cfg.maxIterations)
	}
	return occurrences
}

// RunQueryReport answers a calendar-query.
func (e *Engine) RunQueryReport(ctx context.Context, scope report.Scope, f filter.CompFilter, req report.Request) ([]report.Item, error) {
	return e.reports.Query(ctx, scope, f, req)
}

// RunMultigetReport answers a calendar-multiget.
func (e *Engine) RunMultigetReport(ctx context.Context, scope report.Scope, hrefs []string, req report.Request) ([]report.Item, error) {
	return e.reports.Multiget(ctx, scope, hrefs, req)
}

// RunFreeBusyReport answers a free-busy-query on a collection.
func (e *Engine) RunFreeBusyReport(ctx context.Context, scope report.Scope, start, end time.Time) (freebusy.Report, error) {
	return e.reports.FreeBusy(ctx, scope, start, end)
}

// ComputeFreeBusy folds already matched documents into busy intervals. A
// nil loc uses the engine's default zone.
func (e *Engine) ComputeFreeBusy(docs []*document.Document, start, end time.Time, loc *time.Location) freebusy.Report {
	if loc == nil {
		loc = e.cfg.floating
	}
	agg := freebusy.NewAggregator(
		freebusy.WithResolver(e.cfg.resolver),
		freebusy.WithDefaultZone(loc),
		freebusy.WithMaxIterations(e.cfg.maxIterations),
		freebusy.WithLogger(e.cfg.logger),
	)
	return agg.Compute(docs, start, end)
}

// PutResult describes a stored object.
type PutResult struct {
	ETag     string
	Modified bool
	Created  bool
}

// Put validates raw and stores the canonical form at href.
func (e *Engine) Put(ctx context.Context, href string, raw []byte, mediaType string) (*PutResult, error) {
	w, ok := e.store.(storage.Writer)
	if !ok {
		return nil, ErrReadOnly
	}
	rp, err := storage.ParseHref(href)
	if err != nil {
		return nil, err
	}
	if rp.Type != storage.ResourceObject {
		return nil, fmt.Errorf("%w: %s is not an object href", storage.ErrInvalidInput, href)
	}
	col, err := e.store.Collection(ctx, rp.Collection)
	if err != nil {
		return nil, err
	}

	res, err := e.ValidateForWrite(raw, mediaType, col.SupportedComponents)
	if err != nil {
		e.cfg.logger.Debug("rejected calendar object", "href", href, "error", err)
		return nil, err
	}

	created := false
	if _, err := e.store.Fetch(ctx, rp.String()); errors.Is(err, storage.ErrNotFound) {
		created = true
	} else if err != nil {
		return nil, err
	}

	loc := e.cfg.floating
	if col.Timezone != "" {
		if l, err := e.cfg.resolver.Resolve(col.Timezone); err == nil {
			loc = l
		}
	}
	dctx := document.NewContext(res.Document, e.cfg.resolver, loc)
	idx := document.Denormalize(res.Canonical, res.Document, dctx, e.cfg.maxIterations)

	etag, err := w.Put(ctx, rp.String(), &storage.Object{
		Data:  res.Canonical,
		ETag:  idx.ETag,
		Index: idx,
	})
	if err != nil {
		e.cfg.logger.Error("failed to store calendar object", "href", href, "error", err)
		return nil, err
	}
	e.cfg.logger.Info("stored calendar object",
		"href", href,
		"uid", res.UID,
		"component", res.ComponentType,
		"modified", res.Modified)
	return &PutResult{ETag: etag, Modified: res.Modified, Created: created}, nil
}

// Delete removes the object at href.
func (e *Engine) Delete(ctx context.Context, href string) error {
	w, ok := e.store.(storage.Writer)
	if !ok {
		return ErrReadOnly
	}
	return w.Delete(ctx, href)
}

// Get returns the stored object at href.
func (e *Engine) Get(ctx context.Context, href string) (*storage.Object, error) {
	return e.store.Fetch(ctx, href)
}

// CreateCollection creates a calendar collection.
func (e *Engine) CreateCollection(ctx context.Context, col *storage.Collection) error {
	w, ok := e.store.(storage.Writer)
	if !ok {
		return ErrReadOnly
	}
	return w.CreateCollection(ctx, col)
}

// RequestZone resolves the zone a request names for floating times. The
// configured resolver is tried first, then def, the VTIMEZONE sent along
// with tzid, so that zones with no IANA name still apply.
func (e *Engine) RequestZone(tzid string, def *ical.Component) (document.Zone, error) {
	loc, err := e.cfg.resolver.Resolve(tzid)
	if err == nil {
		return document.LocationZone(loc), nil
	}
	if def == nil {
		return nil, err
	}
	z, zerr := document.NewInlineZone(def)
	if zerr != nil {
		return nil, fmt.Errorf("timezone %q: %w", tzid, zerr)
	}
	return z, nil
}
