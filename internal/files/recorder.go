package files

import (
	"context"
	"errors"
	"time"
)

// Record is the persisted metadata of one uploaded object. It references the
// object by StorageKey but does not own it.
type Record struct {
	ID           int64
	OriginalName string
	ContentType  string
	Size         int64
	StorageKey   string
	UploadedBy   string
	LessonID     string
	CreatedAt    time.Time
}

// Descriptor is the caller-facing summary of an uploaded file.
type Descriptor struct {
	ID           int64  `json:"id,omitempty"           example:"42"`
	Key          string `json:"storageKey"             example:"3f0c8a2e-5d7b-4a7e-9a43-2b1f0f7c9d10-report.pdf"`
	OriginalName string `json:"originalName,omitempty" example:"report.pdf"`
	ContentType  string `json:"contentType,omitempty"  example:"application/pdf"`
	Size         int64  `json:"size,omitempty"         example:"12"`
	AccessURL    string `json:"url,omitempty"          example:"http://localhost:9000/lessons/3f0c8a2e-5d7b-4a7e-9a43-2b1f0f7c9d10-report.pdf"`
}

// RecordInput holds the attributes captured at upload completion.
type RecordInput struct {
	OriginalName string
	ContentType  string
	Size         int64
	StorageKey   string
	UploadedBy   string
	LessonID     string
}

// ErrRecordNotFound is returned by a MetadataStore when no record matches.
var ErrRecordNotFound = errors.New("file metadata not found")

// MetadataStore persists metadata records.
type MetadataStore interface {
	Save(ctx context.Context, rec *Record) (*Record, error)
	FindByKey(ctx context.Context, key string) (*Record, error)
}

// URLSource produces retrieval URLs for stored objects.
type URLSource interface {
	URLFor(ctx context.Context, bucket, key string) (string, error)
}

// Recorder saves metadata for uploaded objects and turns records back into
// descriptors. Access URLs are computed on every read and never stored, so
// their validity is whatever the backend grants.
type Recorder struct {
	store  MetadataStore
	urls   URLSource
	bucket string
}

// NewRecorder creates a Recorder for objects in bucket.
func NewRecorder(store MetadataStore, urls URLSource, bucket string) *Recorder {
	return &Recorder{store: store, urls: urls, bucket: bucket}
}

// Record persists one metadata record. Failures are not sub-classified.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*Record, error) {
	rec, err := r.store.Save(ctx, &Record{
		OriginalName: in.OriginalName,
		ContentType:  in.ContentType,
		Size:         in.Size,
		StorageKey:   in.StorageKey,
		UploadedBy:   in.UploadedBy,
		LessonID:     in.LessonID,
	})
	if err != nil {
		return nil, newError(KindMetadataPersistence, summary(KindMetadataPersistence, "record", in.StorageKey), err)
	}
	return rec, nil
}

// ToDescriptor builds the public descriptor for rec.
func (r *Recorder) ToDescriptor(ctx context.Context, rec *Record) (*Descriptor, error) {
	u, err := r.urls.URLFor(ctx, r.bucket, rec.StorageKey)
	if err != nil {
		kind := Classify(err)
		return nil, newError(kind, summary(kind, "describe", rec.StorageKey), err)
	}

	return &Descriptor{
		ID:           rec.ID,
		Key:          rec.StorageKey,
		OriginalName: rec.OriginalName,
		ContentType:  rec.ContentType,
		Size:         rec.Size,
		AccessURL:    u,
	}, nil
}

// Lookup loads the record for key.
func (r *Recorder) Lookup(ctx context.Context, key string) (*Record, error) {
	rec, err := r.store.FindByKey(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, newError(KindNotFound, summary(KindNotFound, "describe", key), err)
	}
	if err != nil {
		return nil, newError(KindMetadataPersistence, "failed to load file metadata", err)
	}
	return rec, nil
}
