package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category is the coarse origin of a backend failure.
type Category int

const (
	// CategoryUnknown is a failure that could not be attributed.
	CategoryUnknown Category = iota
	// CategoryService is an error response returned by the provider.
	CategoryService
	// CategoryTransport covers connection, timeout, TLS and client
	// configuration failures before a response was received.
	CategoryTransport
	// CategoryPayload is a failure reading the inbound content stream.
	CategoryPayload
)

func (c Category) String() string {
	switch c {
	case CategoryService:
		return "service"
	case CategoryTransport:
		return "transport"
	case CategoryPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Provider error codes shared by S3-compatible backends.
const (
	CodeNoSuchKey    = "NoSuchKey"
	CodeNotFound     = "NotFound"
	CodeNoSuchBucket = "NoSuchBucket"
	CodeAccessDenied = "AccessDenied"
)

// Failure is the structured description of a backend error. Backends
// translate their SDK errors into it so that nothing above this package
// depends on a provider's error types.
type Failure struct {
	Op         string
	Category   Category
	StatusCode int
	Code       string
	Err        error
}

func (f *Failure) Error() string {
	msg := f.Op + ": " + f.Category.String()
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", f.StatusCode)
	}
	if f.Code != "" {
		msg += " code=" + f.Code
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// IsNotFound reports whether the provider said the object does not exist.
func (f *Failure) IsNotFound() bool {
	return f.StatusCode == http.StatusNotFound || f.Code == CodeNoSuchKey || f.Code == CodeNotFound
}

// AsFailure extracts a *Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// NotFound builds the failure backends return for a missing object.
func NotFound(op, key string) *Failure {
	return &Failure{
		Op:         op,
		Category:   CategoryService,
		StatusCode: http.StatusNotFound,
		Code:       CodeNoSuchKey,
		Err:        fmt.Errorf("object %q does not exist", key),
	}
}

// isTransport reports errors raised before the provider answered.
func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
