package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/filter"
	"github.com/cyp0633/calengine/storage"
)

// Query runs a calendar-query. On a collection every member is evaluated
// (after the store's prefilter, when it has one) and non-matching members are
// dropped. On an object href only that object is evaluated. Members that
// fail to parse are logged and treated as non-matching; any store failure
// other than not-found fails the whole report.
func (o *Orchestrator) Query(ctx context.Context, scope Scope, f filter.CompFilter, req Request) ([]Item, error) {
	if err := filter.Validate(f); err != nil {
		return nil, err
	}
	rp, err := storage.ParseHref(scope.Href)
	if err != nil {
		return nil, err
	}

	if rp.Type == storage.ResourceObject {
		col, err := o.collection(ctx, rp.Collection)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		obj, err := o.fetch(ctx, rp.String())
		if err != nil {
			return nil, err
		}
		item, err := o.evaluate(o.evaluator(o.zone(scope, col)), rp.String(), obj, f, req)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return []Item{}, nil
		}
		return []Item{*item}, nil
	}

	if scope.Depth == Depth0 {
		if !o.lenientDepth {
			return nil, ErrDepth
		}
		o.logger.Debug("treating depth 0 collection query as depth 1", "href", rp.Collection)
	}
	col, err := o.collection(ctx, rp.Collection)
	if err != nil {
		return nil, err
	}

	hrefs, err := o.candidates(ctx, rp.Collection, f)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("evaluating calendar-query", "collection", rp.Collection, "candidates", len(hrefs))

	ev := o.evaluator(o.zone(scope, col))
	return o.fanOut(ctx, hrefs, func(ctx context.Context, href string) (*Item, error) {
		return o.queryOne(ctx, ev, href, f, req)
	})
}

// queryOne returns the item for href if it matches, nil otherwise.
func (o *Orchestrator) queryOne(ctx context.Context, ev *filter.Evaluator, href string, f filter.CompFilter, req Request) (*Item, error) {
	obj, err := o.fetch(ctx, href)
	if errors.Is(err, storage.ErrNotFound) {
		o.logger.Debug("candidate vanished during query", "href", href)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o.evaluate(ev, href, obj, f, req)
}

// evaluate parses obj and returns its item if it matches f.
func (o *Orchestrator) evaluate(ev *filter.Evaluator, href string, obj *storage.Object, f filter.CompFilter, req Request) (*Item, error) {
	doc, err := document.ParseBytes(obj.Data)
	if err != nil {
		o.logger.Warn("skipping unparseable calendar object", "href", href, "error", err)
		return nil, nil
	}
	ok, err := ev.Match(doc, f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	dctx := document.NewZoneContext(doc, o.resolver, ev.FloatingZone())
	return o.found(href, obj, doc, dctx, req), nil
}

// candidates lists the hrefs to evaluate, narrowed by the store when it
// implements storage.Querier.
func (o *Orchestrator) candidates(ctx context.Context, collection string, f filter.CompFilter) ([]string, error) {
	q, ok := o.store.(storage.Querier)
	if !ok {
		return o.list(ctx, collection)
	}
	pf, ok := prefilterOf(f)
	if !ok {
		return o.list(ctx, collection)
	}
	hrefs, err := q.Prefilter(ctx, collection, pf)
	if err != nil {
		o.logger.Error("store prefilter failed", "collection", collection, "error", err)
		return nil, fmt.Errorf("prefilter %s: %w", collection, err)
	}
	return hrefs, nil
}

func (o *Orchestrator) list(ctx context.Context, collection string) ([]string, error) {
	hrefs, err := o.store.List(ctx, collection)
	if err != nil {
		o.logger.Error("store list failed", "collection", collection, "error", err)
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return hrefs, nil
}

func (o *Orchestrator) collection(ctx context.Context, href string) (*storage.Collection, error) {
	col, err := o.store.Collection(ctx, href)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.logger.Error("store collection lookup failed", "href", href, "error", err)
		}
		return nil, fmt.Errorf("collection %s: %w", href, err)
	}
	return col, nil
}

func (o *Orchestrator) evaluator(zone document.Zone) *filter.Evaluator {
	return filter.NewEvaluator(
		filter.WithResolver(o.resolver),
		filter.WithFloatingZone(zone),
		filter.WithMaxIterations(o.maxIterations),
		filter.WithLogger(o.logger),
	)
}

// prefilterOf derives the index constraints of the common
// VCALENDAR > COMP [time-range] shape. Filters with more than one top-level
// comp-filter or a negated one are not narrowed.
func prefilterOf(f filter.CompFilter) (storage.Prefilter, bool) {
	if len(f.CompFilters) != 1 || f.TimeRange != nil {
		return storage.Prefilter{}, false
	}
	comp := f.CompFilters[0]
	if comp.IsNotDefined || !document.IsPrimary(comp.Name) {
		return storage.Prefilter{}, false
	}
	pf := storage.Prefilter{ComponentType: comp.Name}
	if comp.TimeRange != nil {
		pf.Start = comp.TimeRange.Start.OrEmpty()
		pf.End = comp.TimeRange.End.OrEmpty()
	}
	return pf, true
}
