package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_Normalizes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "cfg.yaml", `
prefix: caldav/
store:
  driver: SQLite
freebusy_span: 2w
collections:
  - href: alice/work
    timezone: Europe/Berlin
    components: [vevent, " vtodo"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/caldav", cfg.Prefix)
	assert.Equal(t, "127.0.0.1:5232", cfg.Listen)
	assert.Equal(t, 50000, cfg.MaxIterations)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "calengine.db", cfg.Store.Path)
	require.Len(t, cfg.Collections, 1)
	assert.Equal(t, "/alice/work/", cfg.Collections[0].Href)
	assert.Equal(t, []string{"VEVENT", "VTODO"}, cfg.Collections[0].Components)
	assert.Equal(t, 14*24*time.Hour, Duration(cfg.FreeBusySpan, 0))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"yaml", "listen: [unterminated"},
		{"timezone", "timezone: Mars/Olympus"},
		{"duration", "shutdown_timeout: soon"},
		{"collection timezone", "collections:\n  - href: /a/\n    timezone: Nowhere/Land\n"},
		{"duplicate collection", "collections:\n  - href: /a/\n  - href: a\n"},
	}

	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, "cfg.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_VendorTimezone(t *testing.T) {
	if _, err := time.LoadLocation("Europe/Berlin"); err != nil {
		t.Skip("tzdata not available")
	}
	path := writeFile(t, t.TempDir(), "cfg.yaml", `
timezone: /mozilla.org/20050126_1/Europe/Berlin
collections:
  - href: /a/
    timezone: /citadel.org/20190914_1/Europe/Berlin
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mozilla.org/20050126_1/Europe/Berlin", cfg.Timezone)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, Duration("1m30s", time.Second))
	assert.Equal(t, 7*24*time.Hour, Duration("1w", time.Second))
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, time.Second, Duration("-5s", time.Second))
}

func TestConfig_Level(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, (&Config{LogLevel: in}).Level(), in)
	}
}
