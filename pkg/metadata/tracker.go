package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/logging"
)

// slice is one of the ranges the download was split into. id is the range as
// it was handed to a fetcher and never changes; remaining is the part of it
// that has not been written yet.
type slice struct {
	id        byterange.Range
	remaining byterange.Range
}

// Tracker records which byte ranges of a download are still outstanding and
// persists them to a sidecar file next to the destination after every update.
//
// A Tracker is owned by a single goroutine (the writer). Only Done may be used
// concurrently.
type Tracker struct {
	dest    string
	path    string
	size    int64
	slices  []*slice
	index   map[byterange.Range]*slice
	initial int
	resumed bool

	complete bool
	done     chan struct{}

	rename func(oldpath, newpath string) error
}

type options struct {
	slices int
	rename func(oldpath, newpath string) error
}

type Option func(*options)

// WithSlices sets the number of slices a fresh download is split into.
func WithSlices(n int) Option {
	return func(o *options) { o.slices = n }
}

// WithRename replaces the function used to swap the temporary sidecar into
// place.
func WithRename(fn func(oldpath, newpath string) error) Option {
	return func(o *options) { o.rename = fn }
}

// Update describes the effect of a single RecordChunk call.
type Update struct {
	// Ignored is set when the chunk did not match the outstanding state of
	// any slice, e.g. a duplicate.
	Ignored bool
	// SliceDone is set when the chunk finished its slice.
	SliceDone bool
	// Complete is set once no slices remain.
	Complete bool
	Slice    byterange.Range
}

// Open loads the progress of dest from its sidecar, or starts a fresh download
// of size bytes when there is none. A size <= 0 means the size is unknown and
// the whole resource is tracked as a single open range.
func Open(dest string, size int64, opts ...Option) (*Tracker, error) {
	o := options{slices: byterange.DefaultSlices, rename: os.Rename}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Tracker{
		dest:   dest,
		path:   SidecarPath(dest),
		size:   size,
		index:  make(map[byterange.Range]*slice),
		done:   make(chan struct{}),
		rename: o.rename,
	}
	logger := logging.GetLogger()

	removed, err := removeIfExists(t.path + TempSuffix)
	if err != nil {
		return nil, &PersistenceError{Op: "remove", Path: t.path + TempSuffix, Err: err}
	}
	if removed {
		logger.Warn().Str("path", t.path+TempSuffix).Msg("Removed orphaned metadata")
	}

	ranges, err := readSidecar(t.path)
	switch {
	case err == nil:
		if err := validateRanges(ranges, size); err != nil {
			return nil, fmt.Errorf("%s: %w", t.path, err)
		}
		t.resumed = true
	case errors.Is(err, fs.ErrNotExist):
		ranges = byterange.Partition(size, o.slices)
	case errors.Is(err, ErrCorruptSidecar):
		return nil, fmt.Errorf("%s: %w", t.path, err)
	default:
		return nil, &PersistenceError{Op: "read", Path: t.path, Err: err}
	}

	for _, r := range ranges {
		s := &slice{id: r, remaining: r}
		t.slices = append(t.slices, s)
		t.index[r] = s
	}
	t.initial = len(t.slices)

	if len(t.slices) == 0 {
		// an empty sidecar only survives a crash between the final update and
		// its removal
		return t, t.finish()
	}
	if !t.resumed {
		if err := t.persist(); err != nil {
			return nil, err
		}
	}

	logger.Debug().
		Str("dest", dest).
		Bool("resumed", t.resumed).
		Int("slices", len(t.slices)).
		Int64("size", size).
		Msg("Metadata loaded")
	return t, nil
}

// Accepts reports whether RecordChunk would record c rather than ignore it.
func (t *Tracker) Accepts(c byterange.Chunk) bool {
	if t.complete {
		return false
	}
	s, ok := t.index[c.Range]
	if !ok || c.Length < 0 || c.Offset != s.remaining.Start {
		return false
	}
	return s.remaining.Open() || c.End() <= s.remaining.End
}

// RecordChunk marks the bytes carried by c as written. Chunks must arrive in
// increasing offset order within their range; anything that does not continue
// the outstanding part of a known slice is ignored.
func (t *Tracker) RecordChunk(c byterange.Chunk) (Update, error) {
	if t.complete {
		return Update{Ignored: true, Complete: true, Slice: c.Range}, nil
	}

	if !t.Accepts(c) {
		return Update{Ignored: true, Slice: c.Range}, nil
	}
	s := t.index[c.Range]
	if c.Length == 0 && !c.EOF {
		return Update{Slice: c.Range}, nil
	}

	next := s.remaining
	next.Start += int64(c.Length)

	update := Update{Slice: c.Range}
	switch {
	case next.Open() && c.EOF:
		update.SliceDone = true
		if t.size <= 0 {
			t.size = next.Start
		}
	case !next.Open() && next.Start > next.End:
		update.SliceDone = true
	}

	if update.SliceDone {
		t.remove(s)
	} else {
		s.remaining = next
	}

	if len(t.slices) == 0 {
		update.Complete = true
		return update, t.finish()
	}
	return update, t.persist()
}

func (t *Tracker) remove(s *slice) {
	delete(t.index, s.id)
	for i, candidate := range t.slices {
		if candidate == s {
			t.slices = append(t.slices[:i], t.slices[i+1:]...)
			return
		}
	}
}

func (t *Tracker) persist() error {
	return writeSidecar(t.path, t.Remaining(), t.rename)
}

// finish removes the sidecar; no metadata survives a completed download.
func (t *Tracker) finish() error {
	if _, err := removeIfExists(t.path); err != nil {
		return &PersistenceError{Op: "remove", Path: t.path, Err: err}
	}
	t.complete = true
	close(t.done)
	return nil
}

// Complete reports whether every slice has been written.
func (t *Tracker) Complete() bool {
	return t.complete
}

// Done is closed when the download completes. It is safe to use from any
// goroutine.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Outstanding returns the identity of every unfinished slice, in order. These
// are the ranges to hand to fetchers.
func (t *Tracker) Outstanding() []byterange.Range {
	out := make([]byterange.Range, 0, len(t.slices))
	for _, s := range t.slices {
		out = append(out, s.id)
	}
	return out
}

// Remaining returns the unwritten part of every unfinished slice, in order.
func (t *Tracker) Remaining() []byterange.Range {
	out := make([]byterange.Range, 0, len(t.slices))
	for _, s := range t.slices {
		out = append(out, s.remaining)
	}
	return out
}

// Size is the declared size of the resource, or <= 0 while unknown.
func (t *Tracker) Size() int64 {
	return t.size
}

// Resumed reports whether the state was loaded from an existing sidecar.
func (t *Tracker) Resumed() bool {
	return t.resumed
}

func (t *Tracker) Path() string {
	return t.path
}

func (t *Tracker) Dest() string {
	return t.dest
}

// Progress is derived from the outstanding slices.
type Progress struct {
	Total           int64
	Remaining       int64
	Slices          int
	SlicesRemaining int
}

// Percent of the declared size that has been written, 0 while the size is
// unknown.
func (p Progress) Percent() float64 {
	if p.SlicesRemaining == 0 {
		return 100
	}
	if p.Total <= 0 || p.Remaining < 0 {
		return 0
	}
	return float64(p.Total-p.Remaining) * 100 / float64(p.Total)
}

func (t *Tracker) Progress() Progress {
	p := Progress{
		Total:           t.size,
		Slices:          t.initial,
		SlicesRemaining: len(t.slices),
	}
	for _, s := range t.slices {
		if s.remaining.Open() {
			p.Remaining = -1
			break
		}
		p.Remaining += s.remaining.Length()
	}
	return p
}
