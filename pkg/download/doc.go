// Package download implements resumable parallel downloads over HTTP range
// requests.
//
// A Downloader probes the remote size, loads or creates the download's
// metadata, and runs a pool of RangeFetchers, one per outstanding range. The
// fetchers share a rate-limited token bucket and push chunks onto one bounded
// queue that a single consumer.FileWriter drains into the destination file.
package download
