package interfaces

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/engine"
	"github.com/cyp0633/calengine/filter"
	"github.com/cyp0633/calengine/freebusy"
	"github.com/cyp0633/calengine/report"
	"github.com/cyp0633/calengine/storage"
	"github.com/emersion/go-ical"
)

// Handler defines the interface for handling CalDAV requests
type Handler interface {
	// ServeHTTP handles all CalDAV requests
	ServeHTTP(w http.ResponseWriter, r *http.Request)

	// Individual method handlers that can be used directly with HTTP routers
	HandleReport(w http.ResponseWriter, r *http.Request)
	HandleGet(w http.ResponseWriter, r *http.Request)
	HandlePut(w http.ResponseWriter, r *http.Request)
	HandleDelete(w http.ResponseWriter, r *http.Request)
	HandleOptions(w http.ResponseWriter, r *http.Request)
}

// Engine is what the handler needs from the calendar engine.
// *engine.Engine implements it.
type Engine interface {
	RunQueryReport(ctx context.Context, scope report.Scope, f filter.CompFilter, req report.Request) ([]report.Item, error)
	RunMultigetReport(ctx context.Context, scope report.Scope, hrefs []string, req report.Request) ([]report.Item, error)
	RunFreeBusyReport(ctx context.Context, scope report.Scope, start, end time.Time) (freebusy.Report, error)
	Put(ctx context.Context, href string, raw []byte, mediaType string) (*engine.PutResult, error)
	Get(ctx context.Context, href string) (*storage.Object, error)
	Delete(ctx context.Context, href string) error
	RequestZone(tzid string, def *ical.Component) (document.Zone, error)
}

var _ Engine = (*engine.Engine)(nil)

// HandlerConfig contains configuration for the CalDAV handler
type HandlerConfig struct {
	// Engine answers reports and stores objects
	Engine Engine

	// URLPrefix is the base path where the CalDAV server is mounted
	// For example: "/caldav/"
	URLPrefix string

	// AllowedMethods specifies which HTTP methods are allowed
	// If nil, all methods are allowed
	AllowedMethods []string

	// CustomHeaders allows adding custom headers to responses
	CustomHeaders map[string]string

	// MaxBodySize caps request bodies; zero means 10 MiB
	MaxBodySize int64

	// Logger is the slog.Logger to use for logging
	// If nil, logging is disabled
	Logger *slog.Logger
}

// Option is a function that modifies HandlerConfig
type Option func(*HandlerConfig)

// WithURLPrefix sets the URL prefix for the handler
func WithURLPrefix(prefix string) Option {
	return func(c *HandlerConfig) {
		c.URLPrefix = prefix
	}
}

// WithAllowedMethods sets the allowed HTTP methods
func WithAllowedMethods(methods []string) Option {
	return func(c *HandlerConfig) {
		c.AllowedMethods = methods
	}
}

// WithCustomHeaders sets custom response headers
func WithCustomHeaders(headers map[string]string) Option {
	return func(c *HandlerConfig) {
		c.CustomHeaders = headers
	}
}

// WithMaxBodySize caps request bodies
func WithMaxBodySize(n int64) Option {
	return func(c *HandlerConfig) {
		c.MaxBodySize = n
	}
}

// WithLogger sets the logger for the handler
func WithLogger(logger *slog.Logger) Option {
	return func(c *HandlerConfig) {
		c.Logger = logger
	}
}

// NewConfig builds a HandlerConfig for e.
func NewConfig(e Engine, opts ...Option) HandlerConfig {
	cfg := HandlerConfig{Engine: e}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// HTTPError represents an HTTP error with status code and message
type HTTPError struct {
	Status  int
	Message string
	// Condition names the DAV or CalDAV precondition that failed, if any
	Condition string
	Err       error
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Common HTTP errors
var (
	ErrMethodNotAllowed = &HTTPError{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"}
	ErrNotFound         = &HTTPError{Status: http.StatusNotFound, Message: "Resource not found"}
	ErrPrecondition     = &HTTPError{Status: http.StatusPreconditionFailed, Message: "Precondition failed"}
)
