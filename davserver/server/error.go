package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cyp0633/calengine/davserver/interfaces"
	"github.com/cyp0633/calengine/engine"
	"github.com/cyp0633/calengine/filter"
	davxml "github.com/cyp0633/calengine/internal/xml"
	"github.com/cyp0633/calengine/report"
	"github.com/cyp0633/calengine/storage"
	"github.com/cyp0633/calengine/validate"
)

// errorMapping turns an engine error into an HTTP error.
type errorMapping struct {
	target    error
	status    int
	message   string
	condition string
}

var errorMappings = []errorMapping{
	{davxml.ErrEmptyBody, http.StatusBadRequest, "Missing request body", ""},
	{davxml.ErrUnsupportedReport, http.StatusForbidden, "Unsupported report type", davxml.CondSupportedReport},
	{davxml.ErrInvalidRequest, http.StatusBadRequest, "Malformed report request", ""},
	{filter.ErrInvalidFilter, http.StatusBadRequest, "Invalid filter", davxml.CondValidFilter},
	{report.ErrDepth, http.StatusBadRequest, "Depth 0 calendar-query on a collection is undefined", ""},
	{report.ErrNotCalendar, http.StatusNotImplemented, "free-busy-query is only implemented on calendars", ""},
	{validate.ErrParse, http.StatusUnsupportedMediaType, "Invalid calendar data", davxml.CondValidCalendarData},
	{validate.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "Unsupported calendar data", davxml.CondSupportedCalendarData},
	{validate.ErrUnsupportedComponentType, http.StatusForbidden, "Component type not supported here", davxml.CondSupportedComponent},
	{validate.ErrMissingRequiredProperty, http.StatusForbidden, "Invalid calendar object", davxml.CondValidCalendarObject},
	{validate.ErrInvalidDocument, http.StatusForbidden, "Invalid calendar object", davxml.CondValidCalendarObject},
	{storage.ErrNotFound, http.StatusNotFound, "Resource not found", ""},
	{storage.ErrInvalidInput, http.StatusBadRequest, "Invalid resource path", ""},
	{storage.ErrConflict, http.StatusConflict, "Resource conflict", ""},
	{storage.ErrStorageUnavailable, http.StatusServiceUnavailable, "Storage unavailable", ""},
	{engine.ErrReadOnly, http.StatusForbidden, "Store is read-only", ""},
}

// toHTTPError classifies err.
func toHTTPError(err error) *interfaces.HTTPError {
	var httpErr *interfaces.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return &interfaces.HTTPError{Status: m.status, Message: m.message, Condition: m.condition, Err: err}
		}
	}
	return &interfaces.HTTPError{Status: http.StatusInternalServerError, Message: "Internal server error", Err: err}
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	httpErr := toHTTPError(err)

	if httpErr.Status >= http.StatusInternalServerError {
		s.logger.Error("error response",
			"status", httpErr.Status,
			"message", httpErr.Message,
			"error", httpErr.Err)
	} else {
		s.logger.Info("client error response",
			"status", httpErr.Status,
			"message", httpErr.Message,
			"error", httpErr.Err)
	}

	if httpErr.Condition == "" {
		http.Error(w, httpErr.Message, httpErr.Status)
		return
	}

	message := httpErr.Message
	if httpErr.Err != nil {
		message = httpErr.Err.Error()
	}
	doc := (&davxml.Error{Condition: httpErr.Condition, Message: message}).ToDocument()
	body, err := doc.WriteToBytes()
	if err != nil {
		s.logger.Error("failed to marshal error response", "error", err)
		http.Error(w, httpErr.Message, httpErr.Status)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(httpErr.Status)
	_, _ = w.Write(body)
}
