package files

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/lessonhub/fileservice/internal/storage"
)

// Kind is the stable, provider-independent category of a gateway failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindAccessDenied        Kind = "access_denied"
	KindProviderError       Kind = "provider_error"
	KindBackendUnavailable  Kind = "backend_unavailable"
	KindPayloadRead         Kind = "payload_read_error"
	KindMetadataPersistence Kind = "metadata_persistence_error"
	KindUnknown             Kind = "unknown_error"
)

// Error is returned by every Gateway operation. Message is safe to show to
// clients; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a KindNotFound gateway error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ClassifyFailure maps a backend failure description to a Kind. It is total
// and has no side effects.
func ClassifyFailure(f storage.Failure) Kind {
	switch f.Category {
	case storage.CategoryPayload:
		return KindPayloadRead
	case storage.CategoryTransport:
		return KindBackendUnavailable
	}

	switch {
	case f.StatusCode == http.StatusNotFound, f.Code == storage.CodeNoSuchKey, f.Code == storage.CodeNotFound:
		return KindNotFound
	case f.StatusCode == http.StatusForbidden, f.Code == storage.CodeAccessDenied:
		return KindAccessDenied
	case f.StatusCode >= http.StatusBadRequest, f.Category == storage.CategoryService:
		return KindProviderError
	}
	return KindUnknown
}

// Classify maps any error to a Kind. Gateway errors keep their kind, backend
// failures go through ClassifyFailure, and bare network errors are treated
// as an unreachable backend.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if f, ok := storage.AsFailure(err); ok {
		return ClassifyFailure(*f)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindBackendUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindBackendUnavailable
	}
	return KindUnknown
}

// summary returns the client-facing message for a classified failure.
func summary(kind Kind, op, key string) string {
	switch kind {
	case KindNotFound:
		return "file not found: " + key
	case KindAccessDenied:
		return "access denied to file: " + key
	case KindProviderError:
		return fmt.Sprintf("storage service error during %s", op)
	case KindBackendUnavailable:
		return fmt.Sprintf("storage service unavailable during %s", op)
	case KindPayloadRead:
		return "failed to read file data"
	case KindMetadataPersistence:
		return "failed to save file metadata"
	default:
		return fmt.Sprintf("unexpected error during %s", op)
	}
}

// HTTPStatus maps a Kind to the status the HTTP layer answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAccessDenied:
		return http.StatusForbidden
	case KindProviderError:
		return http.StatusBadGateway
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindPayloadRead:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
