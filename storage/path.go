package storage

import (
	"fmt"
	"path"
	"strings"
)

// ResourceType represents the type of a resource href
type ResourceType int

const (
	ResourceCollection ResourceType = iota
	ResourceObject
)

// String returns the string representation of the ResourceType
func (rt ResourceType) String() string {
	switch rt {
	case ResourceCollection:
		return "collection"
	case ResourceObject:
		return "object"
	default:
		return "unknown"
	}
}

// ResourcePath represents a parsed href
type ResourcePath struct {
	Type ResourceType
	// Collection is the href of the collection, with a trailing slash.
	Collection string
	// Name is the object's last path segment; empty for collections.
	Name string
}

// String returns the canonical href
func (rp ResourcePath) String() string {
	if rp.Type == ResourceCollection {
		return rp.Collection
	}
	return rp.Collection + rp.Name
}

// ParseHref splits href into collection and object name. A trailing slash
// marks a collection.
func ParseHref(href string) (ResourcePath, error) {
	if href == "" || !strings.HasPrefix(href, "/") {
		return ResourcePath{}, fmt.Errorf("%w: href %q must be absolute", ErrInvalidInput, href)
	}
	if strings.Contains(href, "/../") || strings.HasSuffix(href, "/..") {
		return ResourcePath{}, fmt.Errorf("%w: href %q escapes its root", ErrInvalidInput, href)
	}

	if strings.HasSuffix(href, "/") {
		clean := path.Clean(href)
		if clean != "/" {
			clean += "/"
		}
		return ResourcePath{Type: ResourceCollection, Collection: clean}, nil
	}

	clean := path.Clean(href)
	dir, name := path.Split(clean)
	if name == "" {
		return ResourcePath{}, fmt.Errorf("%w: href %q has no name", ErrInvalidInput, href)
	}
	return ResourcePath{Type: ResourceObject, Collection: dir, Name: name}, nil
}

// CollectionOf returns the collection href containing the object href.
func CollectionOf(href string) string {
	rp, err := ParseHref(href)
	if err != nil {
		return ""
	}
	return rp.Collection
}
