package metadata

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/replicate/rget/pkg/byterange"
	"github.com/replicate/rget/pkg/logging"
)

const (
	SidecarSuffix = ".metadata"
	TempSuffix    = ".tmp"
)

// SidecarPath is where the progress of dest is recorded.
func SidecarPath(dest string) string {
	return dest + SidecarSuffix
}

// Exists reports whether dest has an unfinished download recorded next to it.
func Exists(dest string) bool {
	_, err := os.Stat(SidecarPath(dest))
	return err == nil
}

// The sidecar holds one outstanding range per line: `<start>,<end>\n`. An open
// range is written with an end of -1.
func parseSidecar(r io.Reader) ([]byterange.Range, error) {
	var ranges []byterange.Range
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrCorruptSidecar, lineNo, line)
		}
		start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrCorruptSidecar, lineNo, line)
		}
		end, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrCorruptSidecar, lineNo, line)
		}
		rng, err := byterange.New(start, end)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrCorruptSidecar, lineNo, err)
		}
		ranges = append(ranges, rng)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ranges, nil
}

// validateRanges rejects overlapping ranges and, when the size is known,
// ranges reaching past the end of the resource.
func validateRanges(ranges []byterange.Range, size int64) error {
	sorted := make([]byterange.Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, r := range sorted {
		if size > 0 && !r.Open() && r.End >= size {
			return fmt.Errorf("%w: range %s exceeds remote size %d", ErrCorruptSidecar, r, size)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.Open() || prev.End >= r.Start {
			return fmt.Errorf("%w: ranges %s and %s overlap", ErrCorruptSidecar, prev, r)
		}
	}
	return nil
}

func readSidecar(path string) ([]byterange.Range, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseSidecar(f)
}

// writeSidecar replaces the sidecar at path with ranges. The new content is
// written and synced to path+TempSuffix first, then renamed over path, so a
// crash leaves either the old or the new state on disk.
func writeSidecar(path string, ranges []byterange.Range, rename func(oldpath, newpath string) error) error {
	tmp := path + TempSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return &PersistenceError{Op: "create", Path: tmp, Err: err}
	}

	w := bufio.NewWriter(f)
	for _, r := range ranges {
		if _, err := fmt.Fprintf(w, "%d,%d\n", r.Start, r.End); err != nil {
			f.Close()
			return &PersistenceError{Op: "write", Path: tmp, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return &PersistenceError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &PersistenceError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Op: "close", Path: tmp, Err: err}
	}
	if err := rename(tmp, path); err != nil {
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}
	syncDir(filepath.Dir(path))
	return nil
}

// syncDir makes a completed rename durable. Some platforms cannot fsync a
// directory; the rename itself is still atomic there.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logger := logging.GetLogger()
		logger.Trace().Err(err).Str("dir", dir).Msg("Directory sync skipped")
	}
}

func removeIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
