// Package sqlite stores calendar objects in SQLite together with their
// denormalized index, so calendar-query candidates can be narrowed in SQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/storage"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements storage.Storage, storage.Writer and storage.Querier
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// New opens (and migrates) the database at dbPath
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	connStr := dbPath + "?_foreign_keys=on&_journal_mode=DELETE&_synchronous=FULL"
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer; SQLite serializes anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		href TEXT PRIMARY KEY,
		display_name TEXT,
		supported_components TEXT,
		timezone TEXT,
		ctag TEXT
	);

	CREATE TABLE IF NOT EXISTS objects (
		href TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		data BLOB NOT NULL,
		etag TEXT NOT NULL,
		modified INTEGER NOT NULL,
		component_type TEXT,
		uid TEXT,
		first_occurrence INTEGER,
		last_occurrence INTEGER,
		floating INTEGER NOT NULL DEFAULT 0,
		classification TEXT,
		size INTEGER,
		FOREIGN KEY (collection) REFERENCES collections(href) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_objects_collection ON objects(collection, component_type);
	CREATE INDEX IF NOT EXISTS idx_objects_first ON objects(first_occurrence);
	CREATE INDEX IF NOT EXISTS idx_objects_last ON objects(last_occurrence);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Collection Operations ---

func (s *Store) CreateCollection(ctx context.Context, col *storage.Collection) error {
	rp, err := storage.ParseHref(col.Href)
	if err != nil {
		return err
	}
	if rp.Type != storage.ResourceCollection {
		return fmt.Errorf("%w: collection href %s must end with a slash", storage.ErrInvalidInput, col.Href)
	}
	supported, err := json.Marshal(col.SupportedComponents)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (href, display_name, supported_components, timezone, ctag)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(href) DO NOTHING`,
		rp.Collection, col.DisplayName, string(supported), col.Timezone, s.ctag())
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("collection %s: %w", rp.Collection, storage.ErrConflict)
	}
	return nil
}

func (s *Store) Collection(ctx context.Context, href string) (*storage.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT href, display_name, supported_components, timezone, ctag
		FROM collections WHERE href = ?`, href)

	var (
		col       storage.Collection
		supported sql.NullString
	)
	err := row.Scan(&col.Href, &col.DisplayName, &supported, &col.Timezone, &col.CTag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %s: %w", href, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	if supported.Valid && supported.String != "" {
		if err := json.Unmarshal([]byte(supported.String), &col.SupportedComponents); err != nil {
			return nil, fmt.Errorf("collection %s: corrupt supported components: %w", href, err)
		}
	}
	return &col, nil
}

// --- Object Operations ---

func (s *Store) Fetch(ctx context.Context, href string) (*storage.Object, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT href, data, etag, modified, component_type, uid, first_occurrence, last_occurrence, floating, classification, size
		FROM objects WHERE href = ?`, href)

	var (
		obj         storage.Object
		modified    int64
		first, last sql.NullInt64
	)
	err := row.Scan(&obj.Href, &obj.Data, &obj.ETag, &modified,
		&obj.Index.ComponentType, &obj.Index.UID, &first, &last, &obj.Index.Floating, &obj.Index.Classification, &obj.Index.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s: %w", href, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	obj.Modified = time.Unix(0, modified).UTC()
	obj.Index.FirstOccurrence = fromUnix(first)
	obj.Index.LastOccurrence = fromUnix(last)
	obj.Index.ETag = obj.ETag
	return &obj, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]string, error) {
	return s.Prefilter(ctx, collection, storage.Prefilter{})
}

// Prefilter selects members of collection using the denormalized columns.
// Rows without an index always pass.
func (s *Store) Prefilter(ctx context.Context, collection string, q storage.Prefilter) ([]string, error) {
	if _, err := s.Collection(ctx, collection); err != nil {
		return nil, err
	}

	var (
		where = []string{"collection = ?"}
		args  = []any{collection}
		skew  = int64(document.FloatingSkew / time.Second)
	)
	if q.ComponentType != "" {
		where = append(where, "(component_type = '' OR component_type = ?)")
		args = append(args, strings.ToUpper(q.ComponentType))
	}
	if !q.End.IsZero() {
		where = append(where, "(first_occurrence IS NULL OR first_occurrence - floating * ? <= ?)")
		args = append(args, skew, q.End.Unix())
	}
	if !q.Start.IsZero() {
		where = append(where, "(first_occurrence IS NULL OR last_occurrence + floating * ? >= ? OR last_occurrence = ?)")
		args = append(args, skew, q.Start.Unix(), document.MaxDate.Unix())
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT href FROM objects WHERE "+strings.Join(where, " AND ")+" ORDER BY href", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var hrefs []string
	for rows.Next() {
		var href string
		if err := rows.Scan(&href); err != nil {
			return nil, err
		}
		hrefs = append(hrefs, href)
	}
	return hrefs, rows.Err()
}

func (s *Store) Put(ctx context.Context, href string, obj *storage.Object) (string, error) {
	rp, err := storage.ParseHref(href)
	if err != nil {
		return "", err
	}
	if rp.Type != storage.ResourceObject {
		return "", fmt.Errorf("%w: %s is not an object href", storage.ErrInvalidInput, href)
	}
	if _, err := s.Collection(ctx, rp.Collection); err != nil {
		return "", err
	}

	etag := obj.ETag
	if etag == "" {
		etag = document.ETag(obj.Data)
	}
	idx := obj.Index

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO objects (href, collection, data, etag, modified, component_type, uid, first_occurrence, last_occurrence, floating, classification, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(href) DO UPDATE SET
			data = excluded.data,
			etag = excluded.etag,
			modified = excluded.modified,
			component_type = excluded.component_type,
			uid = excluded.uid,
			first_occurrence = excluded.first_occurrence,
			last_occurrence = excluded.last_occurrence,
			floating = excluded.floating,
			classification = excluded.classification,
			size = excluded.size`,
		rp.String(), rp.Collection, obj.Data, etag, s.now().UnixNano(),
		idx.ComponentType, idx.UID, toUnix(idx.FirstOccurrence), toUnix(idx.LastOccurrence),
		idx.Floating, idx.Classification, len(obj.Data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET ctag = ? WHERE href = ?`, s.ctag(), rp.Collection); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	return etag, nil
}

func (s *Store) Delete(ctx context.Context, href string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE href = ?`, href)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("object %s: %w", href, storage.ErrNotFound)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE collections SET ctag = ? WHERE href = ?`, s.ctag(), storage.CollectionOf(href))
	return err
}

func (s *Store) ctag() string {
	return fmt.Sprintf("%d", s.now().UnixNano())
}

func toUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnix(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}
