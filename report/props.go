package report

import (
	"net/http"
	"strconv"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/storage"
	"github.com/samber/mo"
)

// resolver resolves one requested property of an item.
type resolver func(env *itemEnv) mo.Result[string]

// itemEnv is what resolvers may look at.
type itemEnv struct {
	o      *Orchestrator
	href   string
	obj    *storage.Object
	doc    *document.Document
	ctx    *document.Context
	expand *Expand
}

var resolvers = map[string]resolver{
	PropETag: func(env *itemEnv) mo.Result[string] {
		if env.obj.ETag == "" {
			return mo.Err[string](ErrPropNotFound)
		}
		return mo.Ok(env.obj.ETag)
	},
	PropContentLength: func(env *itemEnv) mo.Result[string] {
		return mo.Ok(strconv.Itoa(len(env.obj.Data)))
	},
	PropLastModified: func(env *itemEnv) mo.Result[string] {
		if env.obj.Modified.IsZero() {
			return mo.Err[string](ErrPropNotFound)
		}
		return mo.Ok(env.obj.Modified.UTC().Format(http.TimeFormat))
	},
	PropCalendarData: func(env *itemEnv) mo.Result[string] {
		if env.expand == nil || env.doc == nil {
			return mo.Ok(string(env.obj.Data))
		}
		expanded := env.ctx.Expand(env.doc, env.expand.Start, env.expand.End, env.o.maxIterations)
		data, err := expanded.Encode()
		if err != nil {
			env.o.logger.Warn("failed to encode expanded calendar data",
				"href", env.href,
				"error", err)
			return mo.Ok(string(env.obj.Data))
		}
		return mo.Ok(string(data))
	},
}

// resolveProps dispatches every requested property through the table.
func resolveProps(env *itemEnv, names []string) map[string]mo.Result[string] {
	out := make(map[string]mo.Result[string], len(names))
	for _, name := range names {
		if r, ok := resolvers[name]; ok {
			out[name] = r(env)
		} else {
			out[name] = mo.Err[string](ErrPropNotFound)
		}
	}
	return out
}

// found builds the 200 item for obj.
func (o *Orchestrator) found(href string, obj *storage.Object, doc *document.Document, ctx *document.Context, req Request) *Item {
	env := &itemEnv{o: o, href: href, obj: obj, doc: doc, ctx: ctx, expand: req.Expand}
	return &Item{
		Href:     href,
		Status:   http.StatusOK,
		Document: doc,
		Props:    resolveProps(env, req.Props),
	}
}
