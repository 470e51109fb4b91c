package byterange

// DefaultSlices is the number of slices a file of known size is split into.
const DefaultSlices = 100

// Partition splits [0, size-1] into at most slices near-equal ranges. Every
// slice has size/slices bytes and the last one absorbs the remainder. Files
// smaller than slices get one slice per byte. An unknown size (size <= 0)
// yields a single open range starting at 0.
func Partition(size int64, slices int) []Range {
	if size <= 0 {
		return []Range{{Start: 0, End: OpenEnd}}
	}
	if slices <= 0 {
		slices = DefaultSlices
	}
	count := int64(slices)
	if size < count {
		count = size
	}
	sliceLen := size / count

	out := make([]Range, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * sliceLen
		end := start + sliceLen - 1
		if i == count-1 {
			end = size - 1
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}
