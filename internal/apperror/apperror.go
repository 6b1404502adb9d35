package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure into a stable, machine-readable category.
type Kind string

const (
	ServiceUnavailable   Kind = "service_unavailable"
	UnsupportedMediaType Kind = "unsupported_media_type"
	EmptyFile            Kind = "empty_file"
	TooLarge             Kind = "too_large"
	ReadFailed           Kind = "read_failed"
	UpstreamError        Kind = "upstream_error"
	InternalError        Kind = "internal_error"
	RateLimited          Kind = "rate_limited"
	Unauthorized         Kind = "unauthorized"
)

// Status maps a kind to the HTTP status returned to callers.
func (k Kind) Status() int {
	switch k {
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	case UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case EmptyFile, ReadFailed:
		return http.StatusBadRequest
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	case UpstreamError:
		return http.StatusBadGateway
	case RateLimited:
		return http.StatusTooManyRequests
	case Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Message is the generic caller-facing description for a kind.
func (k Kind) Message() string {
	switch k {
	case ServiceUnavailable:
		return "moderation service is not available"
	case UnsupportedMediaType:
		return "unsupported media type; expected jpeg, png, webp or gif"
	case EmptyFile:
		return "uploaded file is empty"
	case TooLarge:
		return "uploaded file exceeds the maximum size"
	case ReadFailed:
		return "unable to read uploaded file"
	case UpstreamError:
		return "image classifier request failed"
	case RateLimited:
		return "too many requests"
	case Unauthorized:
		return "authentication required"
	default:
		return "internal error"
	}
}

// Error annotates an underlying error with its kind and operation metadata.
type Error struct {
	Kind      Kind
	Operation string
	RequestID string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Operation == "" {
		return msg
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %s", e.Operation, e.RequestID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Operation, msg)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a kinded error. A nil err is allowed and yields an error carrying only the kind.
func New(kind Kind, operation string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Err: err}
}

// WithRequestID returns a copy of the error tagged with a request identifier.
func (e *Error) WithRequestID(requestID string) *Error {
	clone := *e
	clone.RequestID = requestID
	return &clone
}

// KindOf extracts the kind of err, defaulting to InternalError for untyped errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return InternalError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
