package files

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lessonhub/fileservice/internal/storage"
)

const testBucket = "lesson-files"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory MetadataStore.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	byKey   map[string]*Record
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{byKey: make(map[string]*Record)}
}

func (s *memStore) Save(_ context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	if _, ok := s.byKey[rec.StorageKey]; ok {
		return nil, ErrDuplicateKey
	}
	s.nextID++
	out := *rec
	out.ID = s.nextID
	out.CreatedAt = time.Now()
	s.byKey[rec.StorageKey] = &out
	return &out, nil
}

func (s *memStore) FindByKey(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// stubBackend fails every call with err.
type stubBackend struct {
	err error
}

func (b stubBackend) Put(context.Context, storage.PutInput) error { return b.err }

func (b stubBackend) Get(context.Context, string, string) (*storage.Object, error) {
	return nil, b.err
}

func (b stubBackend) Delete(context.Context, string, string) error { return b.err }

func (b stubBackend) Stat(context.Context, string, string) (*storage.ObjectInfo, error) {
	return nil, b.err
}

func (b stubBackend) PresignPut(context.Context, string, string, time.Duration) (*storage.Grant, error) {
	return nil, b.err
}

func (b stubBackend) URLFor(context.Context, string, string) (string, error) { return "", b.err }

type observation struct {
	op      string
	outcome string
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (o *recordingObserver) Observe(op, outcome string, _ time.Duration) {
	o.mu.Lock()
	o.seen = append(o.seen, observation{op: op, outcome: outcome})
	o.mu.Unlock()
}

func (o *recordingObserver) last() observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.seen) == 0 {
		return observation{}
	}
	return o.seen[len(o.seen)-1]
}

// failingReader yields some bytes and then a read error.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

type gatewayFixture struct {
	gw       *Gateway
	backend  *storage.MemoryBackend
	store    *memStore
	observer *recordingObserver
}

func newFixture(mode UploadMode) *gatewayFixture {
	backend := storage.NewMemoryBackend("http://files.test/")
	store := newMemStore()
	observer := &recordingObserver{}
	gw := NewGateway(
		GatewayConfig{Bucket: testBucket, Mode: mode, PresignTTL: 10 * time.Minute},
		backend,
		NewRecorder(store, backend, testBucket),
		discardLogger(),
		observer,
	)
	return &gatewayFixture{gw: gw, backend: backend, store: store, observer: observer}
}
