package changedetector

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/objectstore"
)

// fakePagedStore always serves exactly one item per page and reports a
// NextToken until pages run out, letting tests exercise maxListPages
// without depending on MemStore's internal page size.
type fakePagedStore struct {
	items []objectstore.ListedItem
}

func (s *fakePagedStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, contentType string) (objectstore.PutResult, error) {
	return objectstore.PutResult{}, nil
}
func (s *fakePagedStore) MultipartPut(ctx context.Context, key string, body io.Reader, size int64, partSize int64, metadata map[string]string, contentType string, progress objectstore.ProgressFunc) (objectstore.PutResult, error) {
	return objectstore.PutResult{}, nil
}
func (s *fakePagedStore) DeleteObject(ctx context.Context, key string) error { return nil }
func (s *fakePagedStore) GetObject(ctx context.Context, key string) (objectstore.GetObjectResult, error) {
	return objectstore.GetObjectResult{}, nil
}

func (s *fakePagedStore) ListObjectsV2(ctx context.Context, prefix string, continuationToken string) (objectstore.ListPage, error) {
	idx := 0
	if continuationToken != "" {
		for i, it := range s.items {
			if it.Key == continuationToken {
				idx = i + 1
				break
			}
		}
	}
	if idx >= len(s.items) {
		return objectstore.ListPage{}, nil
	}
	item := s.items[idx]
	page := objectstore.ListPage{Items: []objectstore.ListedItem{item}}
	if idx+1 < len(s.items) {
		page.NextToken = item.Key
	}
	return page, nil
}

type fakeState struct {
	entries map[string]model.SyncStateEntry
}

func (s *fakeState) Get(relPath string) (model.SyncStateEntry, bool) {
	e, ok := s.entries[relPath]
	return e, ok
}

func (s *fakeState) All() []model.SyncStateEntry {
	out := make([]model.SyncStateEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

func rel(t *testing.T, s string) model.RelativePath {
	t.Helper()
	p, err := model.NewRelativePath(s)
	require.NoError(t, err)
	return p
}

func TestNewObjectIsClassifiedAdded(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	_, err := store.PutBytes("user-1/hq/a.txt", []byte("hi"))
	require.NoError(t, err)

	state := &fakeState{entries: map[string]model.SyncStateEntry{}}
	d := New(store, nil, state, nil)

	changes, err := d.Detect(context.Background(), Config{Prefix: "user-1/hq/"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeAdded, changes[0].Type)
	assert.Equal(t, "a.txt", changes[0].RelativePath.String())
}

func TestUnchangedObjectIsNotEmitted(t *testing.T) {
	store := objectstore.NewMemStore(func() int64 { return 1000 })
	result, err := store.PutBytes("user-1/hq/a.txt", []byte("hi"))
	require.NoError(t, err)

	state := &fakeState{entries: map[string]model.SyncStateEntry{
		"a.txt": {RelativePath: rel(t, "a.txt"), LastModifiedMs: 1000, ETag: result.ETag},
	}}
	d := New(store, nil, state, nil)

	changes, err := d.Detect(context.Background(), Config{Prefix: "user-1/hq/"})
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestChangedETagIsClassifiedModified(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	_, err := store.PutBytes("user-1/hq/a.txt", []byte("hi"))
	require.NoError(t, err)

	state := &fakeState{entries: map[string]model.SyncStateEntry{
		"a.txt": {RelativePath: rel(t, "a.txt"), ETag: "stale-etag"},
	}}
	d := New(store, nil, state, nil)

	changes, err := d.Detect(context.Background(), Config{Prefix: "user-1/hq/"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeModified, changes[0].Type)
}

func TestEntryMissingFromListingIsDeletedByDefault(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	state := &fakeState{entries: map[string]model.SyncStateEntry{
		"gone.txt": {RelativePath: rel(t, "gone.txt"), ETag: "x"},
	}}
	d := New(store, nil, state, nil)

	changes, err := d.Detect(context.Background(), Config{Prefix: "user-1/hq/"})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeDeleted, changes[0].Type)
}

func TestDeletedSuppressedWhenPolicyIsKeep(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	state := &fakeState{entries: map[string]model.SyncStateEntry{
		"gone.txt": {RelativePath: rel(t, "gone.txt"), ETag: "x"},
	}}
	d := New(store, nil, state, nil)

	changes, err := d.Detect(context.Background(), Config{Prefix: "user-1/hq/", DeletedFilePolicy: "keep"})
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDirectoryMarkerKeysAreSkipped(t *testing.T) {
	store := objectstore.NewMemStore(nil)
	_, err := store.PutBytes("user-1/hq/sub/", []byte(""))
	require.NoError(t, err)

	state := &fakeState{entries: map[string]model.SyncStateEntry{}}
	d := New(store, nil, state, nil)

	changes, err := d.Detect(context.Background(), Config{Prefix: "user-1/hq/"})
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestMaxListPagesCapStopsListingWithoutMarkingDeletions(t *testing.T) {
	store := &fakePagedStore{items: []objectstore.ListedItem{
		{Key: "user-1/hq/a.txt", ETag: "etag-a"},
		{Key: "user-1/hq/b.txt", ETag: "etag-b"},
		{Key: "user-1/hq/c.txt", ETag: "etag-c"},
	}}

	state := &fakeState{entries: map[string]model.SyncStateEntry{
		"would-be-deleted.txt": {RelativePath: rel(t, "would-be-deleted.txt"), ETag: "x"},
	}}
	d := New(store, nil, state, nil)

	changes, err := d.Detect(context.Background(), Config{Prefix: "user-1/hq/", MaxListPages: 1})
	require.NoError(t, err)

	// Only the first page (1 item) should have been consumed before the
	// cap stopped listing, and the partial listing must not mark the
	// missing state entry as deleted.
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeAdded, changes[0].Type)
	for _, c := range changes {
		assert.NotEqual(t, "would-be-deleted.txt", c.RelativePath.String())
	}
}
