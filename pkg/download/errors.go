package download

import (
	"errors"
	"fmt"

	"github.com/replicate/rget/pkg/byterange"
)

var (
	// ErrProbe means the size of the remote resource could not be
	// determined. The download continues as a single open range.
	ErrProbe = errors.New("unable to determine remote file size")
	// ErrRangeIgnored means the server answered a range request that does
	// not start at 0 with the whole resource.
	ErrRangeIgnored = errors.New("server does not support range requests")
	// ErrShortRead means the remote stream ended before the requested range
	// was delivered.
	ErrShortRead = errors.New("remote resource ended before the end of the range")
	// ErrReadTimeout means no bytes arrived for longer than the read timeout.
	ErrReadTimeout = errors.New("read timed out")
	// ErrIncomplete means every fetcher stopped but bytes are still missing.
	ErrIncomplete = errors.New("download incomplete")
)

type HttpStatusError struct {
	StatusCode int
}

func ErrUnexpectedHTTPStatus(statusCode int) error {
	return HttpStatusError{StatusCode: statusCode}
}

var _ error = &HttpStatusError{}

func (c HttpStatusError) Error() string {
	return fmt.Sprintf("Status code %d", c.StatusCode)
}

// FetchError is returned when a range could not be fetched. It aborts the
// download.
type FetchError struct {
	Range byterange.Range
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error fetching range %s of %s: %v", e.Range, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
