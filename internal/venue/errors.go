package venue

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the venue answers 429. Callers pause the
// offending loop instead of counting it as a plain transient failure.
var ErrRateLimited = errors.New("venue: rate limited")

// APIError tags a network, HTTP or decode failure with the endpoint that
// produced it.
type APIError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("venue %s: HTTP %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("venue %s: %v", e.Endpoint, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func apiErr(endpoint string, status int, err error) error {
	return &APIError{Endpoint: endpoint, Status: status, Err: err}
}
