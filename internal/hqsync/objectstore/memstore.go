package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type memObject struct {
	body         []byte
	metadata     map[string]string
	contentType  string
	etag         string
	lastModified int64
	version      int
}

// MemStore is an in-memory Store used for tests. It is safe for
// concurrent use and, unlike S3Store, never touches the network.
type MemStore struct {
	mu             sync.Mutex
	objects        map[string]memObject
	clock          int64 // fake monotonic clock advanced on every put
	nowMs          func() int64
	getObjectCalls int64
}

// NewMemStore creates an empty MemStore. nowMs supplies LastModified
// timestamps; pass nil to use an internal monotonically-increasing
// counter instead of wall-clock time (useful for deterministic tests).
func NewMemStore(nowMs func() int64) *MemStore {
	return &MemStore{objects: make(map[string]memObject), nowMs: nowMs}
}

func (m *MemStore) timestamp() int64 {
	if m.nowMs != nil {
		return m.nowMs()
	}
	m.clock++
	return m.clock
}

func computeETag(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

func (m *MemStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string, contentType string) (PutResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return PutResult{}, fmt.Errorf("objectstore: read body for %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	etag := computeETag(data)
	prev := m.objects[key]
	obj := memObject{
		body:         data,
		metadata:     cloneMeta(metadata),
		contentType:  contentType,
		etag:         etag,
		lastModified: m.timestamp(),
		version:      prev.version + 1,
	}
	m.objects[key] = obj

	return PutResult{ETag: etag, VersionID: fmt.Sprintf("v%d", obj.version)}, nil
}

func (m *MemStore) MultipartPut(ctx context.Context, key string, body io.Reader, size int64, partSize int64, metadata map[string]string, contentType string, progress ProgressFunc) (PutResult, error) {
	if partSize <= 0 {
		partSize = 5 * 1024 * 1024
	}

	var buf bytes.Buffer
	chunk := make([]byte, partSize)
	var uploaded int64

	for {
		n, err := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			uploaded += int64(n)
			if progress != nil {
				progress(uploaded, size)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return PutResult{}, fmt.Errorf("objectstore: read body for %s: %w", key, err)
		}
	}

	return m.PutObject(ctx, key, &buf, int64(buf.Len()), metadata, contentType)
}

func (m *MemStore) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemStore) ListObjectsV2(ctx context.Context, prefix string, continuationToken string) (ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if continuationToken != "" {
		for i, k := range keys {
			if k == continuationToken {
				start = i + 1
				break
			}
		}
	}

	const pageSize = 1000
	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	page := ListPage{}
	for _, k := range keys[start:end] {
		obj := m.objects[k]
		page.Items = append(page.Items, ListedItem{
			Key:            k,
			LastModifiedMs: obj.lastModified,
			SizeBytes:      int64(len(obj.body)),
			ETag:           obj.etag,
		})
	}
	if end < len(keys) {
		page.NextToken = keys[end-1]
	}
	return page, nil
}

func (m *MemStore) GetObject(ctx context.Context, key string) (GetObjectResult, error) {
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.getObjectCalls++
	m.mu.Unlock()

	if !ok {
		return GetObjectResult{}, fmt.Errorf("objectstore: get %s: %w", key, errNotFound)
	}

	return GetObjectResult{
		Body:         io.NopCloser(bytes.NewReader(obj.body)),
		SizeBytes:    int64(len(obj.body)),
		ETag:         obj.etag,
		LastModified: obj.lastModified,
	}, nil
}

// GetObjectCallCount reports how many times GetObject has been called,
// for tests asserting on dedup behavior in callers (e.g. the
// Downloader fetching byte-identical content only once per batch).
func (m *MemStore) GetObjectCallCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getObjectCalls
}

// PutBytes is a test convenience wrapper around PutObject.
func (m *MemStore) PutBytes(key string, data []byte) (PutResult, error) {
	return m.PutObject(context.Background(), key, bytes.NewReader(data), int64(len(data)), nil, "")
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var errNotFound = fmt.Errorf("object not found")

var _ Store = (*MemStore)(nil)
