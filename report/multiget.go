package report

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/filter"
	"github.com/cyp0633/calengine/freebusy"
	"github.com/cyp0633/calengine/storage"
)

// Multiget returns one item per href, in request order. Hrefs the store does
// not know come back as 404 items. Objects that fail to parse are still
// returned with their stored bytes.
func (o *Orchestrator) Multiget(ctx context.Context, scope Scope, hrefs []string, req Request) ([]Item, error) {
	var col *storage.Collection
	if rp, err := storage.ParseHref(scope.Href); err == nil && rp.Type == storage.ResourceCollection {
		c, err := o.collection(ctx, rp.Collection)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		col = c
	}
	zone := o.zone(scope, col)

	return o.fanOut(ctx, hrefs, func(ctx context.Context, href string) (*Item, error) {
		obj, err := o.fetch(ctx, href)
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(href), nil
		}
		if err != nil {
			return nil, err
		}

		doc, err := document.ParseBytes(obj.Data)
		if err != nil {
			o.logger.Warn("returning unparseable calendar object as stored", "href", href, "error", err)
			return o.found(href, obj, nil, nil, req), nil
		}
		return o.found(href, obj, doc, document.NewZoneContext(doc, o.resolver, zone), req), nil
	})
}

// FreeBusy answers a free-busy-query on a collection: the VEVENTs matching
// a time-range query over [start, end) are folded into busy intervals.
func (o *Orchestrator) FreeBusy(ctx context.Context, scope Scope, start, end time.Time) (freebusy.Report, error) {
	rp, err := storage.ParseHref(scope.Href)
	if err != nil {
		return freebusy.Report{}, err
	}
	if rp.Type != storage.ResourceCollection {
		return freebusy.Report{}, ErrNotCalendar
	}
	col, err := o.collection(ctx, rp.Collection)
	if err != nil {
		return freebusy.Report{}, err
	}
	zone := o.zone(scope, col)

	f := filter.VCalendarEvents(start, end)
	hrefs, err := o.candidates(ctx, rp.Collection, f)
	if err != nil {
		return freebusy.Report{}, err
	}
	ev := o.evaluator(zone)
	items, err := o.fanOut(ctx, hrefs, func(ctx context.Context, href string) (*Item, error) {
		return o.queryOne(ctx, ev, href, f, Request{})
	})
	if err != nil {
		return freebusy.Report{}, err
	}

	docs := make([]*document.Document, 0, len(items))
	for _, item := range items {
		if item.Status == http.StatusOK && item.Document != nil {
			docs = append(docs, item.Document)
		}
	}
	agg := freebusy.NewAggregator(
		freebusy.WithResolver(o.resolver),
		freebusy.WithFloatingZone(zone),
		freebusy.WithMaxIterations(o.maxIterations),
		freebusy.WithLogger(o.logger),
	)
	return agg.Compute(docs, start, end), nil
}
