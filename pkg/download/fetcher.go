package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/ratelimit"
)

var contentRangeRegexp = regexp.MustCompile(`^bytes ([0-9]+)-[0-9]+/(?:[0-9]+|\*)$`)

// RangeFetcher streams byte ranges of URL into chunks on Queue, reading no
// faster than Bucket allows.
type RangeFetcher struct {
	Client      client.HTTPClient
	URL         string
	Bucket      *ratelimit.TokenBucket
	Queue       chan<- byterange.Chunk
	ChunkSize   int64
	ReadTimeout time.Duration
}

// Fetch downloads r. Chunks are pushed in increasing offset order. A non-2xx
// response, a failed read or a stream that ends before r.End fails the whole
// range with a *FetchError.
func (f *RangeFetcher) Fetch(ctx context.Context, r byterange.Range) error {
	logger := logging.FromContext(ctx)
	logger.Debug().Str("range", r.String()).Msg("Fetching")

	if err := f.fetch(ctx, r); err != nil {
		return &FetchError{Range: r, URL: f.URL, Err: err}
	}

	logger.Debug().Str("range", r.String()).Msg("Fetched")
	return nil
}

func (f *RangeFetcher) fetch(ctx context.Context, r byterange.Range) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Range", r.Header())

	resp, err := f.Client.Do(req)
	if err != nil {
		return causeOf(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && r.Open() && r.Start == 0:
		// a resource of unknown size that turned out to be empty
		return f.push(ctx, byterange.Chunk{Offset: 0, Range: r, EOF: true})
	case resp.StatusCode/100 != 2:
		return ErrUnexpectedHTTPStatus(resp.StatusCode)
	case resp.StatusCode != http.StatusPartialContent && r.Start != 0:
		return fmt.Errorf("%w: status %d", ErrRangeIgnored, resp.StatusCode)
	case resp.StatusCode == http.StatusPartialContent:
		if err := checkContentRange(resp.Header.Get("Content-Range"), r); err != nil {
			return err
		}
	}

	body := newIdleTimeoutReader(resp.Body, f.ReadTimeout, func() { cancel(ErrReadTimeout) })
	defer body.stop()

	offset := r.Start
	for r.Open() || offset <= r.End {
		allotment := f.ChunkSize
		if !r.Open() {
			allotment = min(allotment, r.End-offset+1)
		}
		allotment = min(allotment, f.Bucket.Capacity())

		// tokens gate reads, never the connection itself
		if err := f.Bucket.Wait(ctx, allotment); err != nil {
			return causeOf(ctx, err)
		}

		buf := make([]byte, allotment)
		n, err := io.ReadFull(body, buf)
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return causeOf(ctx, err)
		}

		if n > 0 || (eof && r.Open()) {
			chunk := byterange.Chunk{
				Data:   buf[:n],
				Offset: offset,
				Length: n,
				Range:  r,
				EOF:    eof && r.Open(),
			}
			if err := f.push(ctx, chunk); err != nil {
				return err
			}
		}
		offset += int64(n)

		if eof {
			if r.Open() {
				return nil
			}
			return fmt.Errorf("%w: received %d of %d bytes", ErrShortRead, offset-r.Start, r.Length())
		}
	}
	return nil
}

// checkContentRange rejects a partial response that starts somewhere other
// than r.Start. A missing header is accepted.
func checkContentRange(header string, r byterange.Range) error {
	if header == "" {
		return nil
	}
	groups := contentRangeRegexp.FindStringSubmatch(header)
	if groups == nil {
		return fmt.Errorf("couldn't parse Content-Range: %s", header)
	}
	start, err := strconv.ParseInt(groups[1], 10, 64)
	if err != nil {
		return fmt.Errorf("couldn't parse Content-Range: %s", header)
	}
	if start != r.Start {
		return fmt.Errorf("%w: requested %s, got %s", ErrRangeIgnored, r.Header(), header)
	}
	return nil
}

// push hands c to the writer, blocking while the queue is full.
func (f *RangeFetcher) push(ctx context.Context, c byterange.Chunk) error {
	select {
	case f.Queue <- c:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// causeOf prefers the reason ctx was cancelled over the error it produced.
func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

// idleTimeoutReader calls onTimeout when a single Read blocks for longer than
// timeout. Time spent between reads is not counted.
type idleTimeoutReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleTimeoutReader(r io.Reader, timeout time.Duration, onTimeout func()) *idleTimeoutReader {
	reader := &idleTimeoutReader{r: r, timeout: timeout}
	if timeout > 0 {
		reader.timer = time.AfterFunc(timeout, onTimeout)
		reader.timer.Stop()
	}
	return reader
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	if r.timer == nil {
		return r.r.Read(p)
	}
	r.timer.Reset(r.timeout)
	n, err := r.r.Read(p)
	r.timer.Stop()
	return n, err
}

func (r *idleTimeoutReader) stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}
