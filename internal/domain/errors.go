package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidIdentifier is a malformed URL, URI or handle. Never retryable.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrResolution means a handle could not be mapped to an actor ID.
	ErrResolution = errors.New("handle resolution failed")
	// ErrNotFound is a valid identifier with no matching post or profile.
	ErrNotFound = errors.New("not found")
	// ErrAuthRequired means the operation needs a working session.
	ErrAuthRequired = errors.New("authentication required")
	// ErrUpstreamUnavailable covers 5xx, transport errors and timeouts.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidFeedShape trips when even permissive shape probing fails.
	ErrInvalidFeedShape = errors.New("invalid feed shape")
)

// UpstreamError is a non-2xx answer (or a transport failure when Status is 0).
type UpstreamError struct {
	Endpoint string
	Status   int
	Code     string // XRPC "error" field, when present
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("%s: transport error: %v", e.Endpoint, e.Err)
	case e.Code != "":
		return fmt.Sprintf("%s: status %d (%s): %s", e.Endpoint, e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is maps the status onto the sentinel taxonomy.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstreamUnavailable:
		return e.Status == 0 || e.Status >= 500
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.Code == "NotFound" || e.Code == "RecordNotFound"
	case ErrAuthRequired:
		return e.Status == http.StatusUnauthorized || e.Code == "AuthRequired" || e.Code == "AuthenticationRequired"
	}
	return false
}

// Retryable reports whether repeating the call may succeed.
func (e *UpstreamError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ResolutionError wraps the cause of a failed handle resolution together
// with the handle that was asked for.
type ResolutionError struct {
	Handle string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve handle %q: %s", e.Handle, describe(e.Err))
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }

// describe turns a cause into a human-readable phrase without dumping the
// raw upstream body.
func describe(err error) string {
	var ue *UpstreamError
	switch {
	case err == nil:
		return "unknown cause"
	case errors.Is(err, ErrInvalidIdentifier):
		return err.Error()
	case errors.As(err, &ue) && ue.Status == 0:
		return "upstream unreachable"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream unavailable"
	case errors.Is(err, ErrNotFound), errors.As(err, &ue) && ue.Status == http.StatusBadRequest:
		return "handle not found"
	case errors.As(err, &ue):
		return fmt.Sprintf("upstream rejected the request (status %d)", ue.Status)
	default:
		return err.Error()
	}
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return errors.Is(err, ErrUpstreamUnavailable)
}

// HTTPStatus maps an error onto the status a handler should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrResolution):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
