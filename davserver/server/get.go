package server

import (
	"net/http"
	"strconv"

	"github.com/cyp0633/calengine/storage"
)

// HandleGet processes GET and HEAD requests
func (s *Server) HandleGet(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling GET request", "path", r.URL.Path)

	href := s.href(r.URL.Path)
	if rp, err := storage.ParseHref(href); err != nil || rp.Type != storage.ResourceObject {
		s.sendError(w, storage.ErrNotFound)
		return
	}
	obj, err := s.config.Engine.Get(r.Context(), href)
	if err != nil {
		s.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
	}
	if !obj.Modified.IsZero() {
		w.Header().Set("Last-Modified", obj.Modified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(obj.Data)
	}

	s.logger.Debug("completed GET request",
		"path", r.URL.Path,
		"status", http.StatusOK)
}

// HandleOptions processes OPTIONS requests
func (s *Server) HandleOptions(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling OPTIONS request", "path", r.URL.Path)
	// Headers are already set in ServeHTTP
	w.WriteHeader(http.StatusOK)
}
