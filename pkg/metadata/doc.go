// Package metadata tracks which byte ranges of a download are still missing.
//
// The state lives in a sidecar file, `<dest>.metadata`, holding one
// `<start>,<end>` line per unfinished slice. Its size is proportional to the
// number of unfinished slices, not to the size of the download. Every update
// is written to `<dest>.metadata.tmp` and renamed over the sidecar, so after a
// crash the sidecar holds either the previous or the next consistent state.
// The sidecar is removed once the download is complete.
package metadata
