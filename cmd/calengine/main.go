// Command calengine serves calendar collections over CalDAV REPORT, PUT, GET
// and DELETE, or runs a single report against them from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyp0633/calengine/davserver/interfaces"
	"github.com/cyp0633/calengine/davserver/server"
	"github.com/cyp0633/calengine/engine"
	"github.com/cyp0633/calengine/freebusy"
	davxml "github.com/cyp0633/calengine/internal/xml"
	"github.com/cyp0633/calengine/report"
	"github.com/emersion/go-ical"
	"github.com/xhit/go-str2duration/v2"
)

const usage = `usage: calengine <command> [flags]

commands:
  serve     serve the configured collections over HTTP
  report    run a REPORT request body against a collection or object
  freebusy  print the free-busy time of a collection
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "report":
		err = runReport(os.Args[2:], os.Stdout)
	case "freebusy":
		err = runFreeBusy(os.Args[2:], os.Stdout)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "calengine %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig loads the config named by path and builds the logger for it.
func loadConfig(path string) (*Config, *slog.Logger, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	return cfg, logger, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "calengine.yaml", "Path to config file")
	listen := fs.String("listen", "", "HTTP listen address (overrides config if set)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	logger.Info("effective config",
		"listen", cfg.Listen,
		"prefix", cfg.Prefix,
		"store", cfg.Store.Driver,
		"timezone", cfg.Timezone,
		"collections", len(cfg.Collections),
		"lenient_depth", cfg.LenientDepth)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, closeStore, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	handler := server.New(interfaces.NewConfig(e,
		interfaces.WithURLPrefix(cfg.Prefix),
		interfaces.WithMaxBodySize(cfg.MaxBodySize),
		interfaces.WithLogger(logger),
	))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: Duration(cfg.ReadTimeout, 30*time.Second),
		ReadTimeout:       Duration(cfg.ReadTimeout, 30*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting CalDAV server", "addr", cfg.Listen, "prefix", cfg.Prefix)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), Duration(cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runReport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "calengine.yaml", "Path to config file")
	href := fs.String("href", "", "Collection or object href the report targets")
	requestPath := fs.String("request", "", "File holding the REPORT request body")
	depth := fs.String("depth", "1", "Depth header value: 0, 1 or infinity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *href == "" || *requestPath == "" {
		return errors.New("-href and -request are required")
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(*requestPath)
	if err != nil {
		return err
	}
	req, err := davxml.ParseReport(body)
	if err != nil {
		return err
	}

	ctx := context.Background()
	e, closeStore, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	scope := report.Scope{Href: *href, Depth: depthOf(*depth)}
	return writeReport(ctx, e, scope, req, out)
}

// writeReport dispatches req to the engine and writes the response body.
func writeReport(ctx context.Context, e *engine.Engine, scope report.Scope, req *davxml.ReportRequest, out io.Writer) error {
	var items []report.Item
	var err error
	switch req.Kind {
	case davxml.CalendarQuery:
		if req.Timezone != "" {
			if zone, zerr := e.RequestZone(req.Timezone, req.TimezoneDef); zerr == nil {
				scope.Zone = zone
			}
		}
		items, err = e.RunQueryReport(ctx, scope, req.Filter, req.Request())
	case davxml.CalendarMultiget:
		items, err = e.RunMultigetReport(ctx, scope, req.Hrefs, req.Request())
	case davxml.FreeBusyQuery:
		fb, ferr := e.RunFreeBusyReport(ctx, scope, req.Start, req.End)
		if ferr != nil {
			return ferr
		}
		return ical.NewEncoder(out).Encode(freebusy.Render(fb, time.Now()))
	default:
		return davxml.ErrUnsupportedReport
	}
	if err != nil {
		return err
	}

	doc := davxml.Multistatus(items, req.Props)
	doc.Indent(2)
	_, err = doc.WriteTo(out)
	return err
}

func runFreeBusy(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("freebusy", flag.ExitOnError)
	configPath := fs.String("config", "calengine.yaml", "Path to config file")
	href := fs.String("href", "", "Collection href")
	start := fs.String("start", "", "Window start, RFC 3339 (default: now)")
	span := fs.String("span", "", "Window length such as 1d or 2w (default: freebusy_span)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *href == "" {
		return errors.New("-href is required")
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	from := time.Now().UTC().Truncate(time.Minute)
	if *start != "" {
		if from, err = time.Parse(time.RFC3339, *start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if *span == "" {
		*span = cfg.FreeBusySpan
	}
	length, err := str2duration.ParseDuration(*span)
	if err != nil {
		return fmt.Errorf("span: %w", err)
	}
	if length <= 0 {
		return fmt.Errorf("span %q must be positive", *span)
	}

	ctx := context.Background()
	e, closeStore, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	req := &davxml.ReportRequest{Kind: davxml.FreeBusyQuery, Start: from, End: from.Add(length)}
	return writeReport(ctx, e, report.Scope{Href: *href, Depth: report.Depth1}, req, out)
}

func depthOf(v string) report.Depth {
	switch v {
	case "0":
		return report.Depth0
	case "infinity", "Infinity":
		return report.DepthInfinity
	default:
		return report.Depth1
	}
}
