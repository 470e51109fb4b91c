package consumer

import (
	"context"

	"github.com/replicate/rget/pkg/byterange"
)

// Consumer drains fetched chunks until the download is complete or the
// channel is closed.
type Consumer interface {
	Consume(ctx context.Context, chunks <-chan byterange.Chunk) error
}
