package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinioBackend.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	UseSSL     bool
	PublicBase string        // browser-accessible base URL; empty means pre-signed GET URLs
	URLTTL     time.Duration // lifetime of pre-signed GET URLs
}

// MinioBackend implements Backend using a MinIO (or any S3-compatible) endpoint.
type MinioBackend struct {
	client     *minio.Client
	publicBase string
	urlTTL     time.Duration
}

// NewMinioBackend creates a MinIO client. It does not touch the network.
func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:     cfg.UseSSL,
		Region:     cfg.Region,
		MaxRetries: 1, // single attempt, no backoff
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &MinioBackend{
		client:     client,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
		urlTTL:     ttl,
	}, nil
}

// EnsureBucket creates bucket if it is missing. When a public base URL is
// configured the bucket also gets an anonymous read policy, otherwise the
// public URLs handed out by URLFor would not resolve.
func (m *MinioBackend) EnsureBucket(ctx context.Context, bucket string, logger *slog.Logger) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", describeMinio("bucket_exists", err))
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %q: %w", bucket, describeMinio("make_bucket", err))
		}
		logger.Info("storage: created bucket", "bucket", bucket)
	}

	if m.publicBase == "" {
		return nil
	}
	if err := m.client.SetBucketPolicy(ctx, bucket, publicReadPolicy(bucket)); err != nil {
		return fmt.Errorf("set bucket policy: %w", describeMinio("set_bucket_policy", err))
	}
	return nil
}

// Put streams in.Body to MinIO. Size must be the exact byte count, or -1 when
// genuinely unknown (MinIO then buffers into multipart chunks).
func (m *MinioBackend) Put(ctx context.Context, in PutInput) error {
	_, err := m.client.PutObject(ctx, in.Bucket, in.Key, in.Body, in.Size, minio.PutObjectOptions{
		ContentType: in.ContentType,
	})
	if err != nil {
		return describeMinio("put", err)
	}
	return nil
}

// Get opens the object. minio.GetObject is lazy, so the object is stat'ed
// up front to surface a missing key before any bytes reach the caller.
func (m *MinioBackend) Get(ctx context.Context, bucket, key string) (*Object, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, describeMinio("get", err)
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, describeMinio("get", err)
	}

	return &Object{Body: obj, ContentType: info.ContentType, Size: info.Size}, nil
}

// Delete removes the object. S3 semantics make this a no-op for missing keys.
func (m *MinioBackend) Delete(ctx context.Context, bucket, key string) error {
	if err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return describeMinio("delete", err)
	}
	return nil
}

func (m *MinioBackend) Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, describeMinio("stat", err)
	}
	return &ObjectInfo{
		Key:          info.Key,
		ContentType:  info.ContentType,
		Size:         info.Size,
		LastModified: info.LastModified,
	}, nil
}

func (m *MinioBackend) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (*Grant, error) {
	expiresAt := time.Now().Add(ttl)
	u, err := m.client.PresignedPutObject(ctx, bucket, key, ttl)
	if err != nil {
		return nil, describeMinio("presign_put", err)
	}
	return &Grant{URL: u.String(), Key: key, ExpiresAt: expiresAt}, nil
}

// URLFor returns the browser-accessible URL for key.
// For local MinIO with a public bucket: "http://localhost:9000/lessons/<key>".
func (m *MinioBackend) URLFor(ctx context.Context, bucket, key string) (string, error) {
	if m.publicBase != "" {
		return m.publicBase + "/" + url.PathEscape(key), nil
	}
	u, err := m.client.PresignedGetObject(ctx, bucket, key, m.urlTTL, url.Values{})
	if err != nil {
		return "", describeMinio("presign_get", err)
	}
	return u.String(), nil
}

// describeMinio converts a minio-go error into a Failure.
func describeMinio(op string, err error) *Failure {
	if isTransport(err) {
		return &Failure{Op: op, Category: CategoryTransport, Err: err}
	}

	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 || resp.Code != "" {
		return &Failure{
			Op:         op,
			Category:   CategoryService,
			StatusCode: resp.StatusCode,
			Code:       resp.Code,
			Err:        err,
		}
	}

	return &Failure{Op: op, Category: CategoryUnknown, Err: err}
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET on all objects.
func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
