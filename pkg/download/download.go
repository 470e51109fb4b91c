package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/consumer"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/metadata"
	"github.com/replicate/rget/pkg/ratelimit"
)

// Downloader fetches a remote resource into a local file over concurrent range
// requests, recording progress in a sidecar so that an interrupted download
// resumes where it stopped.
type Downloader struct {
	Client  client.HTTPClient
	Options Options
}

type Result struct {
	URL     string
	TrueURL string
	Dest    string
	Size    int64
	Resumed bool
	Elapsed time.Duration
}

func New(opts Options) *Downloader {
	opts = opts.withDefaults()
	if opts.Client.ResponseHeaderTimeout == 0 {
		opts.Client.ResponseHeaderTimeout = opts.ReadTimeout
	}
	return &Downloader{
		Client:  client.NewHTTPClient(opts.Client),
		Options: opts,
	}
}

// Download fetches url into dest. It returns once every byte has been written
// and the sidecar removed, or with the first error, in which case the sidecar
// holds the progress made so far.
func (d *Downloader) Download(ctx context.Context, url, dest string) (Result, error) {
	startTime := time.Now()
	opts := d.Options.withDefaults()
	logger := logging.FromContext(ctx)
	result := Result{URL: url, TrueURL: url, Dest: dest}

	trueURL, size, err := probe(ctx, d.Client, url)
	if trueURL != "" {
		result.TrueURL = trueURL
	}
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		logger.Warn().Err(err).Str("url", url).Msg("Unable to determine size, downloading as a single range")
		size = -1
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return result, fmt.Errorf("error creating directory for %s: %w", dest, err)
	}
	tracker, err := openTracker(ctx, dest, size, opts.Slices)
	if err != nil {
		return result, err
	}
	result.Resumed = tracker.Resumed()
	result.Size = tracker.Size()
	if tracker.Complete() {
		result.Elapsed = time.Since(startTime)
		return result, nil
	}

	flags := os.O_RDWR | os.O_CREATE
	if !tracker.Resumed() {
		// nothing on disk is trusted without a sidecar
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return result, fmt.Errorf("error opening %s: %w", dest, err)
	}
	defer file.Close()
	if !tracker.Resumed() && size > 0 {
		if err := file.Truncate(size); err != nil {
			return result, fmt.Errorf("error allocating %s: %w", dest, err)
		}
	}

	ranges := tracker.Outstanding()
	logger.Debug().
		Str("url", result.TrueURL).
		Str("dest", dest).
		Int64("size", size).
		Bool("resumed", tracker.Resumed()).
		Int("ranges", len(ranges)).
		Int("connections", min(opts.Concurrency, len(ranges))).
		Int64("max_bytes_per_second", opts.MaxBytesPerSecond).
		Msg("Downloading")

	err = d.run(ctx, opts, result.TrueURL, tracker, file, ranges)
	result.Size = tracker.Size()
	result.Elapsed = time.Since(startTime)
	if err != nil {
		return result, err
	}
	if err := file.Close(); err != nil {
		return result, fmt.Errorf("error closing %s: %w", dest, err)
	}
	return result, nil
}

// openTracker loads or creates the progress of dest. Progress recorded for a
// destination file that no longer exists is discarded.
func openTracker(ctx context.Context, dest string, size int64, slices int) (*metadata.Tracker, error) {
	if metadata.Exists(dest) {
		if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
			logger := logging.FromContext(ctx)
			logger.Warn().Str("dest", dest).Msg("Destination missing, discarding recorded progress")
			if err := os.Remove(metadata.SidecarPath(dest)); err != nil {
				return nil, &metadata.PersistenceError{Op: "remove", Path: metadata.SidecarPath(dest), Err: err}
			}
		}
	}
	return metadata.Open(dest, size, metadata.WithSlices(slices))
}

// run wires the pipeline: fetchers feed the chunk queue, the writer drains it
// into file and tracker, and the limiter refills the shared bucket until the
// tracker completes.
func (d *Downloader) run(ctx context.Context, opts Options, url string, tracker *metadata.Tracker, file *os.File, ranges []byterange.Range) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bucket := opts.bucket()
	queue := make(chan byterange.Chunk, opts.QueueDepth)

	limiterDone := make(chan struct{})
	if opts.MaxBytesPerSecond > 0 {
		limiter := ratelimit.NewLimiter(bucket, opts.MaxBytesPerSecond, opts.LimitMode)
		go func() {
			defer close(limiterDone)
			_ = limiter.Run(ctx, tracker.Done())
		}()
	} else {
		close(limiterDone)
	}

	fetchCtx, stopFetchers := context.WithCancel(ctx)
	defer stopFetchers()
	eg, egCtx := errgroup.WithContext(fetchCtx)

	writer := consumer.NewFileWriter(file, tracker)
	eg.Go(func() error {
		// a finished writer leaves nothing for fetchers to do
		defer stopFetchers()
		return writer.Consume(ctx, queue)
	})

	eg.Go(func() error {
		// closing the queue lets the writer drain whatever is left and exit
		defer close(queue)
		fetcher := &RangeFetcher{
			Client:      d.Client,
			URL:         url,
			Bucket:      bucket,
			Queue:       queue,
			ChunkSize:   opts.ChunkSize,
			ReadTimeout: opts.ReadTimeout,
		}
		err := fetchAll(egCtx, fetcher, ranges, opts.Concurrency)
		select {
		case <-tracker.Done():
			return nil
		default:
			return err
		}
	})

	err := eg.Wait()
	cancel()
	<-limiterDone

	if err != nil {
		return err
	}
	if !tracker.Complete() {
		return ErrIncomplete
	}
	return nil
}

// fetchAll runs one fetcher per range on a pool of concurrency workers and
// returns the first error.
func fetchAll(ctx context.Context, fetcher *RangeFetcher, ranges []byterange.Range, concurrency int) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, r := range ranges {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fetcher.Fetch(gCtx, r)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// ranges skipped after cancellation are not a success
	return context.Cause(ctx)
}
