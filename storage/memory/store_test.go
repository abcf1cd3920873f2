package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Collection(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.Collection(ctx, "/cal/work/")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	col := &storage.Collection{Href: "/cal/work/", DisplayName: "Work", SupportedComponents: []string{"VEVENT"}}
	require.NoError(t, store.CreateCollection(ctx, col))
	assert.ErrorIs(t, store.CreateCollection(ctx, col), storage.ErrConflict)
	assert.ErrorIs(t, store.CreateCollection(ctx, &storage.Collection{Href: "/cal/x.ics"}), storage.ErrInvalidInput)

	got, err := store.Collection(ctx, "/cal/work/")
	require.NoError(t, err)
	assert.Equal(t, "Work", got.DisplayName)
	assert.NotEmpty(t, got.CTag)
}

func TestStore_Objects(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, &storage.Collection{Href: "/cal/work/"}))

	_, err := store.Put(ctx, "/cal/other/a.ics", &storage.Object{Data: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	etag, err := store.Put(ctx, "/cal/work/b.ics", &storage.Object{Data: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, document.ETag([]byte("b")), etag)
	_, err = store.Put(ctx, "/cal/work/a.ics", &storage.Object{Data: []byte("a"), ETag: `"custom"`})
	require.NoError(t, err)

	hrefs, err := store.List(ctx, "/cal/work/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/cal/work/a.ics", "/cal/work/b.ics"}, hrefs)

	obj, err := store.Fetch(ctx, "/cal/work/a.ics")
	require.NoError(t, err)
	assert.Equal(t, `"custom"`, obj.ETag)
	assert.Equal(t, []byte("a"), obj.Data)

	require.NoError(t, store.Delete(ctx, "/cal/work/a.ics"))
	_, err = store.Fetch(ctx, "/cal/work/a.ics")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "/cal/work/a.ics"), storage.ErrNotFound)

	_, err = store.List(ctx, "/cal/missing/")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Prefilter(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, &storage.Collection{Href: "/cal/"}))

	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	put := func(name string, idx document.Index) {
		_, err := store.Put(ctx, "/cal/"+name, &storage.Object{Data: []byte(name), Index: idx})
		require.NoError(t, err)
	}
	put("early.ics", document.Index{ComponentType: "VEVENT", FirstOccurrence: day(1), LastOccurrence: day(2)})
	put("late.ics", document.Index{ComponentType: "VEVENT", FirstOccurrence: day(20), LastOccurrence: day(21)})
	put("endless.ics", document.Index{ComponentType: "VEVENT", FirstOccurrence: day(1), LastOccurrence: document.MaxDate})
	put("todo.ics", document.Index{ComponentType: "VTODO"})
	put("unindexed.ics", document.Index{})

	got, err := store.Prefilter(ctx, "/cal/", storage.Prefilter{ComponentType: "VEVENT", Start: day(10), End: day(15)})
	require.NoError(t, err)
	assert.Equal(t, []string{"/cal/endless.ics", "/cal/unindexed.ics"}, got)

	got, err = store.Prefilter(ctx, "/cal/", storage.Prefilter{ComponentType: "VTODO", Start: day(10)})
	require.NoError(t, err)
	assert.Equal(t, []string{"/cal/todo.ics", "/cal/unindexed.ics"}, got)
}
