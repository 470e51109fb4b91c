package byterange

import (
	"errors"
	"fmt"
)

// OpenEnd marks a range that runs until the end of the resource. Open ranges
// only appear when the size of the remote resource could not be determined.
const OpenEnd int64 = -1

var ErrInvalidRange = errors.New("invalid range")

// Range is an inclusive byte interval [Start, End]. Ranges compare by value and
// can be used as map keys.
type Range struct {
	Start int64
	End   int64
}

func New(start, end int64) (Range, error) {
	if start < 0 || (end != OpenEnd && end < start) {
		return Range{}, fmt.Errorf("%w: %d-%d", ErrInvalidRange, start, end)
	}
	return Range{Start: start, End: end}, nil
}

// Open reports whether the range extends to the end of the resource.
func (r Range) Open() bool {
	return r.End == OpenEnd
}

// Length is the number of bytes covered by the range, or -1 for an open range.
func (r Range) Length() int64 {
	if r.Open() {
		return -1
	}
	return r.End - r.Start + 1
}

// Contains reports whether offset lies inside the range.
func (r Range) Contains(offset int64) bool {
	if offset < r.Start {
		return false
	}
	return r.Open() || offset <= r.End
}

// Header renders the value of an HTTP Range request header for r.
func (r Range) Header() string {
	if r.Open() {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r Range) String() string {
	if r.Open() {
		return fmt.Sprintf("%d-", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Chunk is a block of bytes fetched for part of Range, destined for Offset in
// the output file.
type Chunk struct {
	Data   []byte
	Offset int64
	Length int
	Range  Range
	// EOF is set on the last chunk of an open range, once the remote stream
	// has ended.
	EOF bool
}

// End is the offset of the last byte carried by the chunk.
func (c Chunk) End() int64 {
	return c.Offset + int64(c.Length) - 1
}
