package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryBackend keeps objects in process memory. It follows S3 semantics
// closely enough for tests and local development: missing keys are 404
// failures, deletes are idempotent, and a short body is rejected.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

// NewMemoryBackend returns an empty backend. baseURL prefixes the URLs
// returned by URLFor and PresignPut.
func NewMemoryBackend(baseURL string) *MemoryBackend {
	if baseURL == "" {
		baseURL = "memory://"
	}
	return &MemoryBackend{objects: make(map[string]memoryObject), baseURL: baseURL}
}

func memoryKey(bucket, key string) string { return bucket + "/" + key }

func (m *MemoryBackend) Put(ctx context.Context, in PutInput) error {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return &Failure{Op: "put", Category: CategoryUnknown, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &Failure{Op: "put", Category: CategoryTransport, Err: err}
	}
	if in.Size >= 0 && int64(len(data)) != in.Size {
		return &Failure{
			Op:         "put",
			Category:   CategoryService,
			StatusCode: http.StatusBadRequest,
			Code:       "IncompleteBody",
			Err:        fmt.Errorf("read %d bytes, expected %d", len(data), in.Size),
		}
	}

	m.mu.Lock()
	m.objects[memoryKey(in.Bucket, in.Key)] = memoryObject{
		data:        data,
		contentType: in.ContentType,
		modified:    time.Now(),
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, bucket, key string) (*Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[memoryKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, NotFound("get", key)
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
	}, nil
}

func (m *MemoryBackend) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	delete(m.objects, memoryKey(bucket, key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Stat(_ context.Context, bucket, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	obj, ok := m.objects[memoryKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, NotFound("stat", key)
	}
	return &ObjectInfo{
		Key:          key,
		ContentType:  obj.contentType,
		Size:         int64(len(obj.data)),
		LastModified: obj.modified,
	}, nil
}

func (m *MemoryBackend) PresignPut(_ context.Context, bucket, key string, ttl time.Duration) (*Grant, error) {
	expiresAt := time.Now().Add(ttl)
	u := m.baseURL + bucket + "/" + url.PathEscape(key) + "?expires=" + fmt.Sprint(expiresAt.Unix())
	return &Grant{URL: u, Key: key, ExpiresAt: expiresAt}, nil
}

func (m *MemoryBackend) URLFor(_ context.Context, bucket, key string) (string, error) {
	return m.baseURL + bucket + "/" + url.PathEscape(key), nil
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
