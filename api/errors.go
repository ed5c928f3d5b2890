package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned for any 401. The session has already been
// cleared when a caller sees it; the request is not retried.
var ErrUnauthorized = errors.New("unauthorized: please log in again")

// NetworkError means no response was received at all
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: cannot reach server: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a request the server rejected. Message is the server's own
// text, suitable for showing to the operator unchanged.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an HTTPError with the given status code
func IsStatus(err error, code int) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.StatusCode == code
}

func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}
