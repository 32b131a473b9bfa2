package release

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks transient network failures (timeouts, refused connections).
	ErrTimeout = errors.New("transient network failure")
	// ErrNotFound marks an address the origin reports as missing.
	ErrNotFound = errors.New("address not found")
	// ErrUnavailable is returned once the retry budget for a source is spent.
	// Callers treat it as "no data" rather than a failure to surface.
	ErrUnavailable = errors.New("source unavailable")
	// ErrItemNotFound means the page lacks the structure of a live item page.
	ErrItemNotFound = errors.New("item not found or removed")
	// ErrUnknownSource is returned for a source code that is not configured.
	ErrUnknownSource = errors.New("unknown source")
)

// FetchError describes a failed retrieval of URL.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
