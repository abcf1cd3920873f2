package server

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/cyp0633/calengine/davserver/interfaces"
	"github.com/cyp0633/calengine/storage"
)

// checkPreconditions checks If-Match and If-None-Match headers. currentETag
// is empty when the resource does not exist.
func (s *Server) checkPreconditions(r *http.Request, currentETag string) bool {
	ifMatch := r.Header.Get("If-Match")
	ifNoneMatch := r.Header.Get("If-None-Match")

	if ifMatch != "" {
		if currentETag == "" {
			return false
		}
		if ifMatch != "*" && !strings.Contains(ifMatch, currentETag) {
			return false
		}
	}

	if ifNoneMatch != "" && currentETag != "" {
		if ifNoneMatch == "*" || strings.Contains(ifNoneMatch, currentETag) {
			return false
		}
	}

	return true
}

// currentETag returns the ETag of the object at href, or "" if there is none.
func (s *Server) currentETag(r *http.Request, href string) (string, error) {
	obj, err := s.config.Engine.Get(r.Context(), href)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return obj.ETag, nil
}

// HandlePut processes PUT requests. The ETag header is only returned when
// the stored bytes are the ones the client sent.
func (s *Server) HandlePut(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling PUT request", "path", r.URL.Path)

	href := s.href(r.URL.Path)
	body, err := s.readBody(w, r)
	if err != nil {
		s.sendError(w, err)
		return
	}

	etag, err := s.currentETag(r, href)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if !s.checkPreconditions(r, etag) {
		s.sendError(w, &interfaces.HTTPError{Status: http.StatusPreconditionFailed, Message: "ETag precondition failed"})
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	res, err := s.config.Engine.Put(r.Context(), href, body, mediaType)
	if err != nil {
		s.sendError(w, err)
		return
	}

	status := http.StatusNoContent
	if res.Created {
		status = http.StatusCreated
	}
	if !res.Modified {
		w.Header().Set("ETag", res.ETag)
	}
	w.WriteHeader(status)
	s.logger.Info("saved calendar object",
		"path", r.URL.Path,
		"etag", res.ETag,
		"modified", res.Modified)
}

// HandleDelete processes DELETE requests
func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling DELETE request", "path", r.URL.Path)

	href := s.href(r.URL.Path)
	etag, err := s.currentETag(r, href)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if etag == "" {
		s.sendError(w, interfaces.ErrNotFound)
		return
	}
	if !s.checkPreconditions(r, etag) {
		s.sendError(w, &interfaces.HTTPError{Status: http.StatusPreconditionFailed, Message: "ETag precondition failed"})
		return
	}

	if err := s.config.Engine.Delete(r.Context(), href); err != nil {
		s.sendError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	s.logger.Info("deleted calendar object", "path", r.URL.Path)
}
