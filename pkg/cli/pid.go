//go:build !windows

package cli

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/replicate/rget/pkg/logging"
)

// lockRetryInterval is how often a waiting process retries a held lock.
var lockRetryInterval = 100 * time.Millisecond

// PIDFile is an exclusive advisory lock on path. While the lock is held the
// file contains the pid of its holder.
type PIDFile struct {
	path string
	file *os.File
}

func NewPIDFile(path string) (*PIDFile, error) {
	p := &PIDFile{path: path}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PIDFile) open() error {
	file, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	p.file = file
	return nil
}

// Acquire waits until the lock is held or ctx is done. The file is closed
// when Acquire fails.
func (p *PIDFile) Acquire(ctx context.Context) (err error) {
	logger := logging.FromContext(ctx)
	defer func() {
		if err != nil {
			_ = p.file.Close()
		}
	}()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for waiting := false; ; waiting = true {
		locked, lockErr := p.tryLock()
		if lockErr != nil {
			return lockErr
		}
		if locked {
			logger.Debug().Str("path", p.path).Bool("waited", waiting).Msg("Lock acquired")
			return p.writePID()
		}
		if !waiting {
			logger.Warn().
				Str("path", p.path).
				Str("holder", p.holder()).
				Str("message", "Another rget process may be running, use 'rget multifile' to download multiple files in parallel").
				Msg("Waiting on Lock")
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
	}
}

// tryLock takes the lock without blocking. A lock on a file that its previous
// holder has since removed is dropped and the path reopened.
func (p *PIDFile) tryLock() (bool, error) {
	for {
		err := syscall.Flock(int(p.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if p.current() {
			return true, nil
		}
		if err := p.file.Close(); err != nil {
			return false, err
		}
		if err := p.open(); err != nil {
			return false, err
		}
	}
}

// current reports whether the open file is still the one at path.
func (p *PIDFile) current() bool {
	held, err := p.file.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(p.path)
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}

func (p *PIDFile) holder() string {
	data, err := os.ReadFile(p.path)
	if pid := strings.TrimSpace(string(data)); err == nil && pid != "" {
		return pid
	}
	return "unknown"
}

func (p *PIDFile) writePID() error {
	if err := p.file.Truncate(0); err != nil {
		return err
	}
	if _, err := p.file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return err
	}
	return p.file.Sync()
}

// Release removes the file and then drops the lock, so a waiter that wakes up
// finds the path gone instead of a file about to be deleted.
func (p *PIDFile) Release() error {
	return errors.Join(os.Remove(p.path), p.file.Close())
}
