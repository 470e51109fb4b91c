package rget

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/metadata"
)

type Getter struct {
	Downloader *download.Downloader
}

// DownloadFile downloads url to dest, resuming from the sidecar of an earlier
// attempt when there is one.
func (g *Getter) DownloadFile(ctx context.Context, url string, dest string) (int64, time.Duration, error) {
	if g.Downloader == nil {
		g.Downloader = download.New(download.Options{})
	}
	ctx, _ = logging.WithDownloadID(ctx)
	logger := logging.FromContext(ctx)

	result, err := g.Downloader.Download(ctx, url, dest)
	if err != nil {
		event := logger.Error().Err(err).Str("url", url).Str("dest", dest)
		if metadata.Exists(dest) {
			event = event.Str("metadata", metadata.SidecarPath(dest))
		}
		event.Msg("Download failed, progress is kept for the next attempt")
		return result.Size, result.Elapsed, fmt.Errorf("error downloading %s: %w", url, err)
	}

	size := humanize.Bytes(uint64(max(result.Size, 0)))
	throughput := "n/a"
	if seconds := result.Elapsed.Seconds(); seconds > 0 {
		throughput = humanize.Bytes(uint64(float64(max(result.Size, 0))/seconds)) + "/s"
	}
	logger.Info().
		Str("dest", dest).
		Str("size", size).
		Bool("resumed", result.Resumed).
		Str("throughput", throughput).
		Str("elapsed", fmt.Sprintf("%.3fs", result.Elapsed.Seconds())).
		Msg("Complete")
	return result.Size, result.Elapsed, nil
}
