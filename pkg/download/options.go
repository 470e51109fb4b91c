package download

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/ratelimit"
)

const (
	DefaultChunkSize   = 64 * humanize.KiByte
	DefaultQueueDepth  = 64
	DefaultReadTimeout = 10 * time.Second
)

type Options struct {
	// Number of ranges fetched concurrently. Defaults to 1.
	Concurrency int

	// Number of bytes read per chunk. Defaults to 64 KiB.
	ChunkSize int64

	// Number of fetched chunks that may wait for the writer before fetchers
	// block. Defaults to 64.
	QueueDepth int

	// Number of slices a fresh download is split into. Defaults to 100.
	Slices int

	// Download rate ceiling in bytes per second. Zero means unlimited.
	MaxBytesPerSecond int64
	LimitMode         ratelimit.Mode

	// Longest time a fetcher waits for the next bytes of a response.
	ReadTimeout time.Duration

	Client client.Options
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	if o.Slices <= 0 {
		o.Slices = byterange.DefaultSlices
	}
	if o.LimitMode == "" {
		o.LimitMode = ratelimit.ModeHard
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	return o
}

// bucket returns the token bucket shared by all fetchers of one download. A
// soft limiter may carry unused tokens over, up to one extra period's worth.
func (o Options) bucket() *ratelimit.TokenBucket {
	if o.MaxBytesPerSecond <= 0 {
		return ratelimit.NewUnlimitedTokenBucket()
	}
	if o.LimitMode == ratelimit.ModeSoft {
		return ratelimit.NewTokenBucket(2 * o.MaxBytesPerSecond)
	}
	return ratelimit.NewTokenBucket(o.MaxBytesPerSecond)
}
