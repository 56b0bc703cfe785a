package rest

import "fmt"

// AuthenticationError signals a rejected login or a request the current user
// has no permission for.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication rejected"
	}

	return "authentication rejected: " + e.Reason
}

// VersionError signals that the connected server is too old for a requested
// feature.
type VersionError struct {
	Required string
	Server   string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("server version '%s' is too old, need at least %s", e.Server, e.Required)
}

// HTTPError carries any other non-2xx response. Network-level failures are
// normalized into the same kind with Status 0 and the cause wrapped.
type HTTPError struct {
	Status int
	Reason string
	cause  error
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return "transport error: " + e.Reason
	}

	return fmt.Sprintf("HTTP error %d - %s", e.Status, e.Reason)
}

func (e *HTTPError) Unwrap() error {
	return e.cause
}

func transportError(err error) *HTTPError {
	return &HTTPError{Reason: err.Error(), cause: err}
}
