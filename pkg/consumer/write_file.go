package consumer

import (
	"context"
	"fmt"
	"io"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/metadata"
)

// File is the destination of a download.
type File interface {
	io.WriterAt
	Sync() error
	Name() string
}

// FileWriter is the only writer of the destination file and the only caller
// of Tracker.RecordChunk. Each chunk is written and synced before it is
// recorded, so the sidecar never claims bytes that are not on disk.
type FileWriter struct {
	File    File
	Tracker *metadata.Tracker
}

var _ Consumer = &FileWriter{}

func NewFileWriter(file File, tracker *metadata.Tracker) *FileWriter {
	return &FileWriter{File: file, Tracker: tracker}
}

// Consume writes chunks until the tracker completes or chunks is closed. It
// does not stop on cancellation of ctx: chunks already queued are written and
// recorded, and the producers close the channel once they have stopped.
func (f *FileWriter) Consume(ctx context.Context, chunks <-chan byterange.Chunk) error {
	logger := logging.FromContext(ctx)
	if f.Tracker.Complete() {
		return nil
	}
	for chunk := range chunks {
		update, err := f.write(chunk)
		if err != nil {
			return err
		}
		if update.Ignored {
			logger.Debug().
				Str("range", chunk.Range.String()).
				Int64("offset", chunk.Offset).
				Int("length", chunk.Length).
				Msg("Ignoring chunk that does not continue its range")
		}
		if update.SliceDone {
			progress := f.Tracker.Progress()
			logger.Info().
				Str("dest", f.File.Name()).
				Str("percent", fmt.Sprintf("%.0f%%", progress.Percent())).
				Int("ranges_remaining", progress.SlicesRemaining).
				Msg("Downloaded")
		}
		if update.Complete {
			return nil
		}
	}
	return nil
}

func (f *FileWriter) write(chunk byterange.Chunk) (metadata.Update, error) {
	// ignored chunks never touch the file
	if chunk.Length > 0 && f.Tracker.Accepts(chunk) {
		if _, err := f.File.WriteAt(chunk.Data[:chunk.Length], chunk.Offset); err != nil {
			return metadata.Update{}, fmt.Errorf("error writing range %s at offset %d to %s: %w", chunk.Range, chunk.Offset, f.File.Name(), err)
		}
		if err := f.File.Sync(); err != nil {
			return metadata.Update{}, fmt.Errorf("error syncing %s: %w", f.File.Name(), err)
		}
	}
	update, err := f.Tracker.RecordChunk(chunk)
	if err != nil {
		return update, fmt.Errorf("error recording range %s of %s: %w", chunk.Range, f.File.Name(), err)
	}
	return update, nil
}
