// memory based implementation for tests and the CLI
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/storage"
)

// Store implements storage.Storage, storage.Writer and storage.Querier
// using in-memory maps
type Store struct {
	mu          sync.RWMutex
	collections map[string]*storage.Collection // key: collection href
	objects     map[string]*storage.Object     // key: object href
	now         func() time.Time
}

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		collections: make(map[string]*storage.Collection),
		objects:     make(map[string]*storage.Object),
		now:         time.Now,
	}
}

// Collection operations

func (s *Store) Collection(_ context.Context, href string) (*storage.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[href]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", href, storage.ErrNotFound)
	}
	c := *col
	return &c, nil
}

func (s *Store) CreateCollection(_ context.Context, col *storage.Collection) error {
	rp, err := storage.ParseHref(col.Href)
	if err != nil {
		return err
	}
	if rp.Type != storage.ResourceCollection {
		return fmt.Errorf("%w: collection href %s must end with a slash", storage.ErrInvalidInput, col.Href)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[rp.Collection]; exists {
		return fmt.Errorf("collection %s: %w", rp.Collection, storage.ErrConflict)
	}
	c := *col
	c.Href = rp.Collection
	c.CTag = s.ctag()
	s.collections[c.Href] = &c
	return nil
}

// Calendar object operations

func (s *Store) Fetch(_ context.Context, href string) (*storage.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[href]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", href, storage.ErrNotFound)
	}
	o := *obj
	return &o, nil
}

func (s *Store) List(_ context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.collections[collection]; !ok {
		return nil, fmt.Errorf("collection %s: %w", collection, storage.ErrNotFound)
	}
	return s.members(collection, func(*storage.Object) bool { return true }), nil
}

// Prefilter lists the members of collection whose index admits q.
func (s *Store) Prefilter(_ context.Context, collection string, q storage.Prefilter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.collections[collection]; !ok {
		return nil, fmt.Errorf("collection %s: %w", collection, storage.ErrNotFound)
	}
	return s.members(collection, func(obj *storage.Object) bool { return q.Admits(obj.Index) }), nil
}

func (s *Store) members(collection string, keep func(*storage.Object) bool) []string {
	var hrefs []string
	for href, obj := range s.objects {
		if storage.CollectionOf(href) == collection && keep(obj) {
			hrefs = append(hrefs, href)
		}
	}
	sort.Strings(hrefs)
	return hrefs
}

func (s *Store) Put(_ context.Context, href string, obj *storage.Object) (string, error) {
	rp, err := storage.ParseHref(href)
	if err != nil {
		return "", err
	}
	if rp.Type != storage.ResourceObject {
		return "", fmt.Errorf("%w: %s is not an object href", storage.ErrInvalidInput, href)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[rp.Collection]
	if !ok {
		return "", fmt.Errorf("collection %s: %w", rp.Collection, storage.ErrNotFound)
	}

	o := *obj
	o.Href = rp.String()
	o.Data = append([]byte(nil), obj.Data...)
	if o.ETag == "" {
		o.ETag = document.ETag(o.Data)
	}
	o.Modified = s.now()
	s.objects[o.Href] = &o
	col.CTag = s.ctag()

	return o.ETag, nil
}

func (s *Store) Delete(_ context.Context, href string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[href]; !exists {
		return fmt.Errorf("object %s: %w", href, storage.ErrNotFound)
	}
	delete(s.objects, href)
	if col, ok := s.collections[storage.CollectionOf(href)]; ok {
		col.CTag = s.ctag()
	}
	return nil
}

func (s *Store) ctag() string {
	return fmt.Sprintf("%d", s.now().UnixNano())
}
