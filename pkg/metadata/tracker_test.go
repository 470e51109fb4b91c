package metadata_test

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/metadata"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

func tempDest(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "file.bin")
}

func readSidecar(t *testing.T, dest string) string {
	t.Helper()
	data, err := os.ReadFile(metadata.SidecarPath(dest))
	require.NoError(t, err)
	return string(data)
}

func chunk(r byterange.Range, start, end int64) byterange.Chunk {
	return byterange.Chunk{
		Data:   make([]byte, end-start+1),
		Offset: start,
		Length: int(end - start + 1),
		Range:  r,
	}
}

func TestOpenFresh(t *testing.T) {
	dest := tempDest(t)
	tracker, err := metadata.Open(dest, 10_000)
	require.NoError(t, err)

	assert.False(t, tracker.Resumed())
	assert.False(t, tracker.Complete())
	assert.Len(t, tracker.Outstanding(), byterange.DefaultSlices)
	assert.Equal(t, byterange.Partition(10_000, byterange.DefaultSlices), tracker.Outstanding())

	lines := strings.Split(strings.TrimSuffix(readSidecar(t, dest), "\n"), "\n")
	assert.Len(t, lines, byterange.DefaultSlices)
	assert.Equal(t, "0,99", lines[0])
	assert.Equal(t, "9900,9999", lines[99])
}

// 1000 bytes in a single slice, delivered in three chunks.
func TestSingleSliceScenario(t *testing.T) {
	dest := tempDest(t)
	tracker, err := metadata.Open(dest, 1000, metadata.WithSlices(1))
	require.NoError(t, err)

	slice := byterange.Range{Start: 0, End: 999}
	require.Equal(t, []byterange.Range{slice}, tracker.Outstanding())
	assert.Equal(t, "0,999\n", readSidecar(t, dest))

	update, err := tracker.RecordChunk(chunk(slice, 0, 399))
	require.NoError(t, err)
	assert.False(t, update.SliceDone)
	assert.Equal(t, []byterange.Range{{Start: 400, End: 999}}, tracker.Remaining())
	assert.Equal(t, "400,999\n", readSidecar(t, dest))

	_, err = tracker.RecordChunk(chunk(slice, 400, 799))
	require.NoError(t, err)
	assert.Equal(t, []byterange.Range{{Start: 800, End: 999}}, tracker.Remaining())
	assert.Equal(t, "800,999\n", readSidecar(t, dest))
	assert.False(t, tracker.Complete())

	update, err = tracker.RecordChunk(chunk(slice, 800, 999))
	require.NoError(t, err)
	assert.True(t, update.SliceDone)
	assert.True(t, update.Complete)
	assert.True(t, tracker.Complete())
	assert.Empty(t, tracker.Remaining())
	assert.False(t, metadata.Exists(dest))
	assert.Equal(t, 100.0, tracker.Progress().Percent())
}

func TestResumeScenario(t *testing.T) {
	dest := tempDest(t)
	require.NoError(t, os.WriteFile(metadata.SidecarPath(dest), []byte("500,999\n"), 0644))

	tracker, err := metadata.Open(dest, 1000)
	require.NoError(t, err)
	assert.True(t, tracker.Resumed())

	slice := byterange.Range{Start: 500, End: 999}
	require.Equal(t, []byterange.Range{slice}, tracker.Outstanding())

	_, err = tracker.RecordChunk(chunk(slice, 500, 999))
	require.NoError(t, err)
	assert.True(t, tracker.Complete())
	assert.False(t, metadata.Exists(dest))
}

// Applying chunks of random sizes in order to a slice shrinks it
// monotonically until it is removed exactly when all of its bytes arrived.
func TestMonotonicShrink(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for iteration := 0; iteration < 20; iteration++ {
		dest := tempDest(t)
		size := rnd.Int63n(5000) + 1
		tracker, err := metadata.Open(dest, size, metadata.WithSlices(1))
		require.NoError(t, err)

		slice := tracker.Outstanding()[0]
		lastRemaining := slice.Length()
		received := int64(0)
		for received < size {
			n := min(rnd.Int63n(700)+1, size-received)
			_, err := tracker.RecordChunk(chunk(slice, received, received+n-1))
			require.NoError(t, err)
			received += n

			remaining := tracker.Progress().Remaining
			assert.LessOrEqual(t, remaining, lastRemaining)
			assert.Equal(t, size-received, remaining)
			lastRemaining = remaining
			assert.Equal(t, received == size, tracker.Complete())
		}
	}
}

// Persisting, reopening and applying the rest of the chunks ends in the same
// state as applying them all to one tracker.
func TestResumeIdempotence(t *testing.T) {
	const size = 10_007
	const chunkSize = 313

	allChunks := func(ranges []byterange.Range) []byterange.Chunk {
		var out []byterange.Chunk
		for _, r := range ranges {
			for off := r.Start; off <= r.End; off += chunkSize {
				out = append(out, chunk(r, off, min(off+chunkSize-1, r.End)))
			}
		}
		return out
	}

	// uninterrupted
	dest := tempDest(t)
	tracker, err := metadata.Open(dest, size, metadata.WithSlices(7))
	require.NoError(t, err)
	for _, c := range allChunks(tracker.Outstanding()) {
		_, err := tracker.RecordChunk(c)
		require.NoError(t, err)
	}
	assert.True(t, tracker.Complete())
	assert.False(t, metadata.Exists(dest))

	// interrupted after the first half of the chunks
	dest = tempDest(t)
	tracker, err = metadata.Open(dest, size, metadata.WithSlices(7))
	require.NoError(t, err)
	chunks := allChunks(tracker.Outstanding())
	half := len(chunks) / 2
	for _, c := range chunks[:half] {
		_, err := tracker.RecordChunk(c)
		require.NoError(t, err)
	}
	remainingBefore := tracker.Remaining()

	resumed, err := metadata.Open(dest, size)
	require.NoError(t, err)
	assert.True(t, resumed.Resumed())
	assert.Equal(t, remainingBefore, resumed.Remaining())
	assert.Equal(t, resumed.Remaining(), resumed.Outstanding())

	for _, c := range allChunks(resumed.Outstanding()) {
		_, err := resumed.RecordChunk(c)
		require.NoError(t, err)
	}
	assert.True(t, resumed.Complete())
	assert.False(t, metadata.Exists(dest))
}

// A crash after the temporary sidecar is written but before it replaces the
// live one leaves the live sidecar intact.
func TestAtomicPersistence(t *testing.T) {
	dest := tempDest(t)
	crash := errors.New("crash")
	var crashing bool
	rename := func(oldpath, newpath string) error {
		if crashing {
			return crash
		}
		return os.Rename(oldpath, newpath)
	}

	tracker, err := metadata.Open(dest, 1000, metadata.WithSlices(2), metadata.WithRename(rename))
	require.NoError(t, err)
	first := tracker.Outstanding()[0]
	_, err = tracker.RecordChunk(chunk(first, 0, 99))
	require.NoError(t, err)
	before := readSidecar(t, dest)
	assert.Equal(t, "100,499\n500,999\n", before)

	crashing = true
	_, err = tracker.RecordChunk(chunk(first, 100, 199))
	var persistErr *metadata.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.ErrorIs(t, err, crash)

	// the new state was written to the temporary file only
	assert.Equal(t, before, readSidecar(t, dest))
	tmp, err := os.ReadFile(metadata.SidecarPath(dest) + metadata.TempSuffix)
	require.NoError(t, err)
	assert.Equal(t, "200,499\n500,999\n", string(tmp))

	// a restart picks up the intact sidecar and removes the orphan
	resumed, err := metadata.Open(dest, 1000)
	require.NoError(t, err)
	assert.Equal(t, []byterange.Range{{Start: 100, End: 499}, {Start: 500, End: 999}}, resumed.Outstanding())
	_, err = os.Stat(metadata.SidecarPath(dest) + metadata.TempSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestCompletionSignal(t *testing.T) {
	dest := tempDest(t)
	tracker, err := metadata.Open(dest, 300, metadata.WithSlices(3))
	require.NoError(t, err)

	for i, r := range tracker.Outstanding() {
		select {
		case <-tracker.Done():
			t.Fatal("done before all slices were written")
		default:
		}
		assert.True(t, metadata.Exists(dest))
		assert.Equal(t, 3-i, tracker.Progress().SlicesRemaining)

		_, err := tracker.RecordChunk(chunk(r, r.Start, r.End))
		require.NoError(t, err)
	}

	select {
	case <-tracker.Done():
	default:
		t.Fatal("done not closed after completion")
	}
	assert.True(t, tracker.Complete())
	assert.False(t, metadata.Exists(dest))
}

func TestIgnoredChunks(t *testing.T) {
	dest := tempDest(t)
	tracker, err := metadata.Open(dest, 1000, metadata.WithSlices(2))
	require.NoError(t, err)
	first := tracker.Outstanding()[0]

	_, err = tracker.RecordChunk(chunk(first, 0, 99))
	require.NoError(t, err)
	state := readSidecar(t, dest)

	testCases := []struct {
		name  string
		chunk byterange.Chunk
	}{
		{"unknown slice", chunk(byterange.Range{Start: 0, End: 10}, 0, 10)},
		{"duplicate", chunk(first, 0, 99)},
		{"gap", chunk(first, 200, 299)},
		{"overruns slice", chunk(first, 100, 599)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, tracker.Accepts(tc.chunk))
			update, err := tracker.RecordChunk(tc.chunk)
			require.NoError(t, err)
			assert.True(t, update.Ignored)
			assert.Equal(t, state, readSidecar(t, dest))
		})
	}

	next := chunk(first, 100, 199)
	assert.True(t, tracker.Accepts(next))
	update, err := tracker.RecordChunk(next)
	require.NoError(t, err)
	assert.False(t, update.Ignored)
}

func TestOpenEndedSlice(t *testing.T) {
	dest := tempDest(t)
	tracker, err := metadata.Open(dest, -1)
	require.NoError(t, err)

	open := byterange.Range{Start: 0, End: byterange.OpenEnd}
	require.Equal(t, []byterange.Range{open}, tracker.Outstanding())
	assert.Equal(t, "0,-1\n", readSidecar(t, dest))
	assert.Equal(t, 0.0, tracker.Progress().Percent())

	_, err = tracker.RecordChunk(chunk(open, 0, 49))
	require.NoError(t, err)
	assert.Equal(t, "50,-1\n", readSidecar(t, dest))

	last := chunk(open, 50, 59)
	last.EOF = true
	update, err := tracker.RecordChunk(last)
	require.NoError(t, err)
	assert.True(t, update.Complete)
	assert.Equal(t, int64(60), tracker.Size())
	assert.False(t, metadata.Exists(dest))
}

func TestOpenRemovesOrphanedTemp(t *testing.T) {
	dest := tempDest(t)
	tmp := metadata.SidecarPath(dest) + metadata.TempSuffix
	require.NoError(t, os.WriteFile(tmp, []byte("garbage"), 0644))

	_, err := metadata.Open(dest, 100)
	require.NoError(t, err)
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenEmptySidecarIsComplete(t *testing.T) {
	dest := tempDest(t)
	require.NoError(t, os.WriteFile(metadata.SidecarPath(dest), nil, 0644))

	tracker, err := metadata.Open(dest, 100)
	require.NoError(t, err)
	assert.True(t, tracker.Complete())
	assert.False(t, metadata.Exists(dest))
}

func TestOpenCorruptSidecar(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"not a range", "hello\n"},
		{"not a number", "a,b\n"},
		{"reversed", "10,5\n"},
		{"overlap", "0,10\n5,20\n"},
		{"past the end", "0,100\n"},
		{"too many fields", "0,1,2\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dest := tempDest(t)
			require.NoError(t, os.WriteFile(metadata.SidecarPath(dest), []byte(tc.content), 0644))
			_, err := metadata.Open(dest, 100)
			assert.ErrorIs(t, err, metadata.ErrCorruptSidecar)
		})
	}
}

func TestProgress(t *testing.T) {
	dest := tempDest(t)
	tracker, err := metadata.Open(dest, 1000, metadata.WithSlices(4))
	require.NoError(t, err)

	first := tracker.Outstanding()[0]
	_, err = tracker.RecordChunk(chunk(first, first.Start, first.End))
	require.NoError(t, err)

	p := tracker.Progress()
	assert.Equal(t, int64(1000), p.Total)
	assert.Equal(t, int64(750), p.Remaining)
	assert.Equal(t, 4, p.Slices)
	assert.Equal(t, 3, p.SlicesRemaining)
	assert.InDelta(t, 25.0, p.Percent(), 0.001)
}
