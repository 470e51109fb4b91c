//go:build !windows

package cli

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPID(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rget.pid")
	pidFile, err := NewPIDFile(path)
	require.NoError(t, err)

	require.NoError(t, pidFile.Acquire(context.Background()))
	assert.Equal(t, strconv.Itoa(os.Getpid()), readPID(t, path))

	require.NoError(t, pidFile.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFileReplacesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rget.pid")
	require.NoError(t, os.WriteFile(path, []byte("123456789012345"), 0644))

	pidFile, err := NewPIDFile(path)
	require.NoError(t, err)
	require.NoError(t, pidFile.Acquire(context.Background()))
	defer pidFile.Release()

	assert.Equal(t, strconv.Itoa(os.Getpid()), readPID(t, path))
}

func TestPIDFileWaitGivesUpWithContext(t *testing.T) {
	lockRetryInterval = 10 * time.Millisecond
	defer func() { lockRetryInterval = 100 * time.Millisecond }()

	path := filepath.Join(t.TempDir(), "rget.pid")
	holder, err := NewPIDFile(path)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire(context.Background()))
	defer holder.Release()

	waiter, err := NewPIDFile(path)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waiter.Acquire(ctx), context.DeadlineExceeded)
}

// A waiter that outlives the holder locks a fresh file at the same path.
func TestPIDFileWaiterTakesOverAfterRelease(t *testing.T) {
	lockRetryInterval = 10 * time.Millisecond
	defer func() { lockRetryInterval = 100 * time.Millisecond }()

	path := filepath.Join(t.TempDir(), "rget.pid")
	holder, err := NewPIDFile(path)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire(context.Background()))

	waiter, err := NewPIDFile(path)
	require.NoError(t, err)
	acquired := make(chan error, 1)
	go func() { acquired <- waiter.Acquire(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("lock acquired while still held")
	default:
	}

	require.NoError(t, holder.Release())
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lock not acquired after release")
	}
	assert.True(t, waiter.current())
	assert.Equal(t, strconv.Itoa(os.Getpid()), readPID(t, path))

	require.NoError(t, waiter.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
