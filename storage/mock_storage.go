package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

// Fetch implements the Storage interface
func (m *MockStorage) Fetch(ctx context.Context, href string) (*Object, error) {
	args := m.Called(ctx, href)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Object), args.Error(1)
}

// List implements the Storage interface
func (m *MockStorage) List(ctx context.Context, collection string) ([]string, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Collection implements the Storage interface
func (m *MockStorage) Collection(ctx context.Context, href string) (*Collection, error) {
	args := m.Called(ctx, href)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Collection), args.Error(1)
}

// NewMockObject creates a test Object holding raw calendar data
func NewMockObject(href string, data []byte) *Object {
	return &Object{
		Href: href,
		Data: data,
		ETag: "etag-" + href,
	}
}
