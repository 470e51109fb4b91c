package metadata

import (
	"errors"
	"fmt"
)

var ErrCorruptSidecar = errors.New("corrupt metadata sidecar")

// PersistenceError reports a failure to read, write, replace or remove the
// sidecar. Resume correctness depends on the sidecar, so these are fatal.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("metadata %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
