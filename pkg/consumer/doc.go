// Package consumer holds the single consumer of the chunk queue, which writes
// chunks to the destination file and records them in the download metadata.
package consumer
