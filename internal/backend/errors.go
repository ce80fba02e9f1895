package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned when the backend rejects the credential
	// and a refresh did not recover it.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServiceUnavailable marks 5xx responses: the backend is down, not the network.
	ErrServiceUnavailable = errors.New("server temporarily unavailable")
)

// APIError is a non-success response from the backend.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("api %s %s returned status %d", e.Method, e.Path, e.Status)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status >= 500:
		return ErrServiceUnavailable
	}
	return nil
}

// NetworkError wraps transport failures (DNS, refused, timeouts).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err came from the transport rather than the backend.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
