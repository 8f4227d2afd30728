package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Config configures an S3Backend. Empty credentials fall back to the
// default AWS credential chain.
type S3Config struct {
	Endpoint     string // custom endpoint for S3-compatible services
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	PublicBase   string
	URLTTL       time.Duration
}

// S3Backend implements Backend on the AWS SDK v2 request/response client.
type S3Backend struct {
	client     *s3.Client
	presign    *s3.PresignClient
	publicBase string
	urlTTL     time.Duration
}

// NewS3Backend loads the AWS configuration and builds the S3 and presign clients.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		// Failures surface on the first attempt.
		o.Retryer = aws.NopRetryer{}
	})

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &S3Backend{
		client:     client,
		presign:    s3.NewPresignClient(client),
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
		urlTTL:     ttl,
	}, nil
}

func (s *S3Backend) Put(ctx context.Context, in PutInput) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(in.Bucket),
		Key:    aws.String(in.Key),
		Body:   in.Body,
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.Size >= 0 {
		input.ContentLength = aws.Int64(in.Size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return describeS3("put", err)
	}
	return nil
}

func (s *S3Backend) Get(ctx context.Context, bucket, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, describeS3("get", err)
	}

	return &Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Size:        sizeOrUnknown(out.ContentLength),
	}, nil
}

// Delete removes the object. S3 answers 204 for missing keys as well.
func (s *S3Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return describeS3("delete", err)
	}
	return nil
}

func (s *S3Backend) Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, describeS3("stat", err)
	}
	return &ObjectInfo{
		Key:          key,
		ContentType:  aws.ToString(out.ContentType),
		Size:         sizeOrUnknown(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Backend) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (*Grant, error) {
	expiresAt := time.Now().Add(ttl)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, describeS3("presign_put", err)
	}
	return &Grant{URL: req.URL, Key: key, ExpiresAt: expiresAt}, nil
}

func (s *S3Backend) URLFor(ctx context.Context, bucket, key string) (string, error) {
	if s.publicBase != "" {
		return s.publicBase + "/" + url.PathEscape(key), nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", describeS3("presign_get", err)
	}
	return req.URL, nil
}

func sizeOrUnknown(n *int64) int64 {
	if n == nil {
		return -1
	}
	return *n
}

// describeS3 converts an AWS SDK error into a Failure. An operation error
// without an HTTP response never reached the service, which covers network
// failures as well as credential and endpoint misconfiguration.
func describeS3(op string, err error) *Failure {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		f := &Failure{Op: op, Category: CategoryService, StatusCode: respErr.HTTPStatusCode(), Err: err}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			f.Code = apiErr.ErrorCode()
		}
		return f
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &Failure{Op: op, Category: CategoryService, Code: apiErr.ErrorCode(), Err: err}
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) || isTransport(err) {
		return &Failure{Op: op, Category: CategoryTransport, Err: err}
	}

	var opErr *smithy.OperationError
	if errors.As(err, &opErr) {
		return &Failure{Op: op, Category: CategoryTransport, Err: err}
	}

	return &Failure{Op: op, Category: CategoryUnknown, Err: err}
}
