package riot

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream failure so callers can branch on it without
// inspecting status codes
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound is terminal: the entity does not exist upstream
	KindNotFound
	// KindThrottled is a 429 from the upstream's own limiter
	KindThrottled
	// KindTransientServer covers 5xx responses and transport errors
	KindTransientServer
	// KindUnauthorized is a 401/403; the credential is bad or revoked
	KindUnauthorized
	// KindBadResponse is any other status, or a body that does not decode
	KindBadResponse
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindThrottled:
		return "throttled"
	case KindTransientServer:
		return "transient_server"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadResponse:
		return "bad_response"
	default:
		return "unknown"
	}
}

// Retryable reports whether the attempt loop may try again for this kind
func (k Kind) Retryable() bool {
	return k == KindThrottled || k == KindTransientServer
}

// ErrUnavailable is returned in soft-fail mode once retries are exhausted.
// The caller should treat the result as absent.
var ErrUnavailable = errors.New("riot: upstream unavailable")

// APIError is a classified upstream failure. Path never contains the credential.
type APIError struct {
	Kind     Kind
	Status   int
	Path     string
	Attempts int
	Err      error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("riot %s: %s (status %d, attempts %d)", e.Path, e.Kind, e.Status, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, or KindUnknown when err is not an APIError
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, 0 if none
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// IsRetryable reports whether a later run could reasonably succeed
func IsRetryable(err error) bool {
	return KindOf(err).Retryable() || errors.Is(err, ErrUnavailable)
}

func classifyStatus(status int) Kind {
	switch {
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindThrottled
	case status == 401 || status == 403:
		return KindUnauthorized
	case status >= 500:
		return KindTransientServer
	default:
		return KindBadResponse
	}
}
