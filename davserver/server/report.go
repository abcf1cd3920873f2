package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/cyp0633/calengine/davserver/interfaces"
	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/freebusy"
	davxml "github.com/cyp0633/calengine/internal/xml"
	"github.com/cyp0633/calengine/report"
	"github.com/cyp0633/calengine/storage"
	"github.com/emersion/go-ical"
)

// HandleReport processes REPORT requests
func (s *Server) HandleReport(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling REPORT request", "path", r.URL.Path)

	body, err := s.readBody(w, r)
	if err != nil {
		s.sendError(w, err)
		return
	}
	req, err := davxml.ParseReport(body)
	if err != nil {
		s.logger.Warn("failed to parse report request",
			"error", err,
			"path", r.URL.Path)
		s.sendError(w, err)
		return
	}

	scope := s.scope(r)
	s.logger.Debug("processing report",
		"type", req.Kind.String(),
		"href", scope.Href,
		"depth", scope.Depth)

	switch req.Kind {
	case davxml.CalendarQuery:
		s.handleCalendarQuery(w, r, scope, req)
	case davxml.CalendarMultiget:
		s.handleCalendarMultiget(w, r, scope, req)
	case davxml.FreeBusyQuery:
		s.handleFreeBusyQuery(w, r, scope, req)
	}
}

// scope derives the report target from the request path and headers.
// Clients sending an MSFT- user agent get Depth: 1 on collections.
func (s *Server) scope(r *http.Request) report.Scope {
	scope := report.Scope{Href: s.href(r.URL.Path), Depth: parseDepth(r.Header.Get("Depth"))}
	if scope.Depth == report.Depth0 && strings.HasPrefix(r.UserAgent(), "MSFT-") {
		if rp, err := storage.ParseHref(scope.Href); err == nil && rp.Type == storage.ResourceCollection {
			scope.Depth = report.Depth1
		}
	}
	return scope
}

// parseDepth reads the Depth header. REPORT defaults to 0.
func parseDepth(v string) report.Depth {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1":
		return report.Depth1
	case "infinity":
		return report.DepthInfinity
	default:
		return report.Depth0
	}
}

// handleCalendarQuery processes calendar-query REPORT requests
func (s *Server) handleCalendarQuery(w http.ResponseWriter, r *http.Request, scope report.Scope, req *davxml.ReportRequest) {
	if req.Timezone != "" {
		zone, err := s.config.Engine.RequestZone(req.Timezone, req.TimezoneDef)
		if err != nil {
			s.logger.Warn("ignoring unknown request timezone",
				"timezone", req.Timezone,
				"error", err)
		} else {
			scope.Zone = zone
		}
	}

	items, err := s.config.Engine.RunQueryReport(r.Context(), scope, req.Filter, req.Request())
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendMultistatus(w, r, items, req.Props)

	s.logger.Debug("completed calendar query",
		"path", r.URL.Path,
		"results", len(items))
}

// handleCalendarMultiget processes calendar-multiget REPORT requests
func (s *Server) handleCalendarMultiget(w http.ResponseWriter, r *http.Request, scope report.Scope, req *davxml.ReportRequest) {
	hrefs := make([]string, len(req.Hrefs))
	for i, h := range req.Hrefs {
		hrefs[i] = s.href(h)
	}

	items, err := s.config.Engine.RunMultigetReport(r.Context(), scope, hrefs, req.Request())
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendMultistatus(w, r, items, req.Props)

	s.logger.Debug("completed calendar multiget",
		"path", r.URL.Path,
		"results", len(items))
}

// handleFreeBusyQuery answers with a VFREEBUSY calendar.
func (s *Server) handleFreeBusyQuery(w http.ResponseWriter, r *http.Request, scope report.Scope, req *davxml.ReportRequest) {
	fb, err := s.config.Engine.RunFreeBusyReport(r.Context(), scope, req.Start, req.End)
	if err != nil {
		s.sendError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(freebusy.Render(fb, s.now())); err != nil {
		s.sendError(w, &interfaces.HTTPError{Status: http.StatusInternalServerError, Message: "Failed to encode free-busy data", Err: err})
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())

	s.logger.Debug("completed free-busy query",
		"path", r.URL.Path,
		"intervals", len(fb.Intervals),
		"start", document.FormatUTC(fb.Start),
		"end", document.FormatUTC(fb.End))
}

func (s *Server) sendMultistatus(w http.ResponseWriter, r *http.Request, items []report.Item, props []string) {
	for i := range items {
		items[i].Href = s.urlPath(items[i].Href)
	}
	doc := davxml.Multistatus(items, props)
	s.writeXML(w, r, http.StatusMultiStatus, doc)
}

func (s *Server) writeXML(w http.ResponseWriter, r *http.Request, status int, doc *etree.Document) {
	body, err := doc.WriteToBytes()
	if err != nil {
		s.logger.Error("failed to encode response",
			"error", err,
			"path", r.URL.Path)
		s.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
