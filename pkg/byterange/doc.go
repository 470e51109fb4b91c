// Package byterange holds the value types shared by the download pipeline: the
// inclusive byte Range, the fetched Chunk, and the initial slice Partition.
package byterange
