//go:build windows

package cli

import (
	"context"
	"fmt"
	"os"
)

// PIDFile records the pid of its owner. Windows has no flock, so a second
// process is not kept out.
type PIDFile struct {
	file *os.File
}

func NewPIDFile(path string) (*PIDFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &PIDFile{file: file}, nil
}

func (p *PIDFile) Acquire(context.Context) error {
	if err := p.file.Truncate(0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.file, "%d", os.Getpid()); err != nil {
		return err
	}
	return p.file.Sync()
}

func (p *PIDFile) Release() error {
	if err := p.file.Close(); err != nil {
		return err
	}
	return os.Remove(p.file.Name())
}
