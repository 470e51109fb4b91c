package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WithDownloadID returns a context carrying a logger tagged with a fresh
// download_id, so the lines of concurrent downloads can be told apart.
func WithDownloadID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	logger := FromContext(ctx).With().Str("download_id", id).Logger()
	return logger.WithContext(ctx), id
}

// FromContext returns the logger attached to ctx, falling back to the global
// logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return GetLogger()
}
