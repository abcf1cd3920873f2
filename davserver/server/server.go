package server

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cyp0633/calengine/davserver/interfaces"
)

const defaultMaxBodySize = 10 << 20

// Server provides a CalDAV server implementation
type Server struct {
	config interfaces.HandlerConfig
	logger *slog.Logger
	now    func() time.Time
}

var _ interfaces.Handler = (*Server)(nil)

// New creates a new Server with the given configuration
func New(config interfaces.HandlerConfig) *Server {
	// Set default logger if none provided
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaultMaxBodySize
	}

	// Normalize URL prefix
	if config.URLPrefix == "" {
		config.URLPrefix = "/"
	}
	if !strings.HasPrefix(config.URLPrefix, "/") {
		config.URLPrefix = "/" + config.URLPrefix
	}
	if !strings.HasSuffix(config.URLPrefix, "/") {
		config.URLPrefix = config.URLPrefix + "/"
	}

	return &Server{
		config: config,
		logger: config.Logger,
		now:    time.Now,
	}
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("received request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	// Add standard CalDAV headers
	w.Header().Set("DAV", "1, 3, calendar-access")
	w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, REPORT")

	// Add custom headers if configured
	for k, v := range s.config.CustomHeaders {
		w.Header().Set(k, v)
	}

	// Check if method is allowed
	if s.config.AllowedMethods != nil {
		allowed := false
		for _, m := range s.config.AllowedMethods {
			if r.Method == m {
				allowed = true
				break
			}
		}
		if !allowed {
			s.logger.Warn("method not allowed",
				"method", r.Method,
				"path", r.URL.Path)
			s.sendError(w, interfaces.ErrMethodNotAllowed)
			return
		}
	}

	if !strings.HasPrefix(r.URL.Path, s.config.URLPrefix) && r.URL.Path+"/" != s.config.URLPrefix {
		s.sendError(w, interfaces.ErrNotFound)
		return
	}

	// Route request to appropriate handler
	switch r.Method {
	case "REPORT":
		s.HandleReport(w, r)
	case http.MethodGet, http.MethodHead:
		s.HandleGet(w, r)
	case http.MethodPut:
		s.HandlePut(w, r)
	case http.MethodDelete:
		s.HandleDelete(w, r)
	case http.MethodOptions:
		s.HandleOptions(w, r)
	default:
		s.logger.Warn("unsupported method",
			"method", r.Method,
			"path", r.URL.Path)
		s.sendError(w, interfaces.ErrMethodNotAllowed)
	}
}

// Helper functions

// href maps a request path to the store href.
func (s *Server) href(urlPath string) string {
	return "/" + strings.TrimPrefix(strings.TrimPrefix(urlPath, s.config.URLPrefix), "/")
}

// urlPath maps a store href back to a request path.
func (s *Server) urlPath(href string) string {
	return s.config.URLPrefix + strings.TrimPrefix(href, "/")
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodySize))
	if err != nil {
		s.logger.Error("failed to read request body",
			"error", err,
			"path", r.URL.Path)
		return nil, &interfaces.HTTPError{Status: http.StatusBadRequest, Message: "Failed to read request body", Err: err}
	}
	return body, nil
}
