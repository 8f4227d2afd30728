// Package files implements the object storage gateway: storing uploaded
// files under generated keys, streaming them back, deleting them, and
// recording their metadata.
package files

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/lessonhub/fileservice/internal/storage"
)

// UploadMode selects how file bytes reach the backend.
type UploadMode string

const (
	// ModeDirect streams bytes through the gateway.
	ModeDirect UploadMode = "direct"
	// ModePresigned hands the client a pre-signed URL. The gateway never
	// sees the bytes, so content type and size are only known once the
	// client reports completion and the object is stat'ed.
	ModePresigned UploadMode = "presigned"
)

const (
	defaultPresignTTL  = 15 * time.Minute
	defaultContentType = "application/octet-stream"
)

// GatewayConfig carries the per-instance settings of a Gateway.
type GatewayConfig struct {
	Bucket     string
	Mode       UploadMode
	PresignTTL time.Duration
}

// Observer receives the outcome of every gateway operation.
type Observer interface {
	Observe(op, outcome string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) Observe(string, string, time.Duration) {}

// UploadInput is a file handed to the gateway in the direct flow. If Content
// implements io.Closer it is closed before Upload returns.
type UploadInput struct {
	Content      io.Reader
	OriginalName string
	ContentType  string
	Size         int64 // -1 when unknown
	OwnerID      string
	LessonID     string
}

// PresignInput describes an upload the client will perform itself.
type PresignInput struct {
	OriginalName string
}

// CompleteInput reports that a pre-signed upload has finished.
type CompleteInput struct {
	Key          string
	OriginalName string
	OwnerID      string
	LessonID     string
}

// Gateway orchestrates uploads, downloads and deletes against a storage
// backend. It holds no mutable state and is safe for concurrent use.
type Gateway struct {
	cfg      GatewayConfig
	backend  storage.Backend
	recorder *Recorder
	logger   *slog.Logger
	observer Observer
}

// NewGateway creates a Gateway. recorder and observer may be nil.
func NewGateway(cfg GatewayConfig, backend storage.Backend, recorder *Recorder, logger *slog.Logger, observer Observer) *Gateway {
	if cfg.Mode == "" {
		cfg.Mode = ModeDirect
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Gateway{cfg: cfg, backend: backend, recorder: recorder, logger: logger, observer: observer}
}

// Mode returns the upload flow this gateway was configured for.
func (g *Gateway) Mode() UploadMode { return g.cfg.Mode }

// Upload stores the content under a fresh key. The put and the metadata save
// are not transactional: when the save fails the object stays in the bucket
// and is logged for reconciliation.
func (g *Gateway) Upload(ctx context.Context, in UploadInput) (_ *Descriptor, err error) {
	start := time.Now()
	defer func() { g.observe("upload", start, err) }()

	if c, ok := in.Content.(io.Closer); ok {
		defer c.Close()
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	key := GenerateKey(in.OriginalName)
	body := &payloadReader{r: in.Content}

	err = g.backend.Put(ctx, storage.PutInput{
		Bucket:      g.cfg.Bucket,
		Key:         key,
		Body:        body,
		Size:        in.Size,
		ContentType: contentType,
	})
	if err != nil {
		if body.err != nil {
			err = &storage.Failure{Op: "put", Category: storage.CategoryPayload, Err: body.err}
		}
		return nil, g.fail(ctx, "upload", key, err)
	}

	size := in.Size
	if size < 0 {
		size = body.n
	}
	g.logger.InfoContext(ctx, "file stored", "bucket", g.cfg.Bucket, "key", key, "size", size)

	if g.recorder == nil {
		return &Descriptor{Key: key}, nil
	}
	return g.record(ctx, RecordInput{
		OriginalName: in.OriginalName,
		ContentType:  contentType,
		Size:         size,
		StorageKey:   key,
		UploadedBy:   in.OwnerID,
		LessonID:     in.LessonID,
	})
}

// RequestUpload issues a pre-signed PUT URL for a new key. The grant expires
// after the configured TTL; the backend enforces that, not the gateway.
func (g *Gateway) RequestUpload(ctx context.Context, in PresignInput) (_ *storage.Grant, err error) {
	start := time.Now()
	defer func() { g.observe("presign", start, err) }()

	key := GenerateKey(in.OriginalName)
	grant, err := g.backend.PresignPut(ctx, g.cfg.Bucket, key, g.cfg.PresignTTL)
	if err != nil {
		return nil, g.fail(ctx, "presign", key, err)
	}
	return grant, nil
}

// CompleteUpload records a pre-signed upload once the client has finished
// the transfer. Content type and size come from the backend, not the client.
// Completing an already recorded key returns the existing descriptor.
func (g *Gateway) CompleteUpload(ctx context.Context, in CompleteInput) (_ *Descriptor, err error) {
	start := time.Now()
	defer func() { g.observe("complete", start, err) }()

	info, err := g.backend.Stat(ctx, g.cfg.Bucket, in.Key)
	if err != nil {
		return nil, g.fail(ctx, "complete", in.Key, err)
	}
	if info.Size < 0 {
		return nil, g.fail(ctx, "complete", in.Key, &storage.Failure{
			Op:       "stat",
			Category: storage.CategoryService,
			Code:     "MissingContentLength",
			Err:      errors.New("backend reported no object size"),
		})
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	if g.recorder == nil {
		return &Descriptor{Key: in.Key, OriginalName: in.OriginalName, ContentType: contentType, Size: info.Size}, nil
	}
	return g.record(ctx, RecordInput{
		OriginalName: in.OriginalName,
		ContentType:  contentType,
		Size:         info.Size,
		StorageKey:   in.Key,
		UploadedBy:   in.OwnerID,
		LessonID:     in.LessonID,
	})
}

// Download opens a stream of the stored object. The caller must close Body;
// nothing is buffered, so the caller's read rate drives the backend read.
func (g *Gateway) Download(ctx context.Context, key string) (_ *storage.Object, err error) {
	start := time.Now()
	defer func() { g.observe("download", start, err) }()

	obj, err := g.backend.Get(ctx, g.cfg.Bucket, key)
	if err != nil {
		return nil, g.fail(ctx, "download", key, err)
	}
	if obj.ContentType == "" {
		obj.ContentType = defaultContentType
	}
	return obj, nil
}

// Delete removes the object. Deleting a key that does not exist succeeds.
func (g *Gateway) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { g.observe("delete", start, err) }()

	err = g.backend.Delete(ctx, g.cfg.Bucket, key)
	if err == nil {
		return nil
	}
	if Classify(err) == KindNotFound {
		g.logger.DebugContext(ctx, "delete of missing object", "bucket", g.cfg.Bucket, "key", key)
		return nil
	}
	return g.fail(ctx, "delete", key, err)
}

// Describe rebuilds the descriptor of a recorded upload.
func (g *Gateway) Describe(ctx context.Context, key string) (_ *Descriptor, err error) {
	start := time.Now()
	defer func() { g.observe("describe", start, err) }()

	if g.recorder == nil {
		return nil, newError(KindNotFound, "file metadata is not recorded", nil)
	}
	rec, err := g.recorder.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return g.recorder.ToDescriptor(ctx, rec)
}

func (g *Gateway) record(ctx context.Context, in RecordInput) (*Descriptor, error) {
	rec, err := g.recorder.Record(ctx, in)
	if errors.Is(err, ErrDuplicateKey) {
		g.logger.InfoContext(ctx, "metadata already recorded", "bucket", g.cfg.Bucket, "key", in.StorageKey)
		if rec, err = g.recorder.Lookup(ctx, in.StorageKey); err != nil {
			return nil, err
		}
		return g.recorder.ToDescriptor(ctx, rec)
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "metadata save failed, object left without record",
			"bucket", g.cfg.Bucket, "key", in.StorageKey, "error", err)
		return nil, err
	}
	return g.recorder.ToDescriptor(ctx, rec)
}

func (g *Gateway) fail(ctx context.Context, op, key string, err error) *Error {
	kind := Classify(err)
	g.logger.WarnContext(ctx, "storage operation failed",
		"op", op, "bucket", g.cfg.Bucket, "key", key, "kind", kind, "error", err)
	return newError(kind, summary(kind, op, key), err)
}

func (g *Gateway) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	g.observer.Observe(op, outcome, time.Since(start))
}

// payloadReader counts the bytes forwarded and remembers the first read error
// of the inbound stream so a failed put can be blamed on the client rather
// than the backend.
type payloadReader struct {
	r   io.Reader
	n   int64
	err error
}

func (p *payloadReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && p.err == nil {
		p.err = err
	}
	return n, err
}
