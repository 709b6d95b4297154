package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	perrors "github.com/jmgilman/go/errors"
)

// ErrorKind classifies a loader failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindValidation
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// FetchError is a classified loader failure retained on a cache entry.
type FetchError struct {
	Resource string
	Kind     ErrorKind
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s error: %v", e.Resource, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Message returns the text meant for the user: the platform error message
// when the loader returned one, the plain error text otherwise.
func (e *FetchError) Message() string {
	var platformErr perrors.PlatformError
	if perrors.As(e.Err, &platformErr) {
		return platformErr.Message()
	}
	return e.Err.Error()
}

// Retryable reports whether retrying the fetch may succeed.
func (e *FetchError) Retryable() bool {
	return e.Kind == KindNetwork || perrors.IsRetryable(e.Err)
}

// NewFetchError wraps err for resource, classifying it with Classify.
// An error that is already a *FetchError is returned unchanged.
func NewFetchError(resource string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Resource: resource, Kind: Classify(err), Err: err}
}

// Classify maps a loader error to an ErrorKind using its platform error code.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	switch perrors.GetCode(err) {
	case perrors.CodeNetwork, perrors.CodeTimeout, perrors.CodeRateLimit:
		return KindNetwork
	case perrors.CodeInvalidInput,
		perrors.CodeNotFound,
		perrors.CodeUnauthorized,
		perrors.CodeForbidden,
		perrors.CodeConflict,
		perrors.CodeAlreadyExists,
		perrors.CodeSchemaFailed:
		return KindValidation
	case perrors.CodeInternal, perrors.CodeUnavailable, perrors.CodeDatabase:
		return KindServer
	}

	return KindUnknown
}

// ErrorFromStatus builds a coded error for an HTTP status, for loaders and
// mutators that talk to a REST backend.
func ErrorFromStatus(status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}

	var code perrors.ErrorCode
	switch {
	case status == http.StatusUnauthorized:
		code = perrors.CodeUnauthorized
	case status == http.StatusForbidden:
		code = perrors.CodeForbidden
	case status == http.StatusNotFound:
		code = perrors.CodeNotFound
	case status == http.StatusConflict:
		code = perrors.CodeConflict
	case status == http.StatusTooManyRequests:
		code = perrors.CodeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = perrors.CodeTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		code = perrors.CodeUnavailable
	case status >= 400 && status < 500:
		code = perrors.CodeInvalidInput
	case status >= 500:
		code = perrors.CodeInternal
	default:
		code = perrors.CodeUnknown
	}

	return perrors.WithContext(perrors.New(code, message), "status", status)
}
