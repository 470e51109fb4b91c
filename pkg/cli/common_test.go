package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/rget/pkg/metadata"
	"github.com/replicate/rget/pkg/optname"
)

func TestEnsureDestinationNotExist(t *testing.T) {
	defer viper.Reset()
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing")
	require.NoError(t, os.WriteFile(existing, []byte("data"), 0644))
	partial := filepath.Join(dir, "partial")
	require.NoError(t, os.WriteFile(partial, []byte("da"), 0644))
	require.NoError(t, os.WriteFile(metadata.SidecarPath(partial), []byte("2,3\n"), 0644))

	testCases := []struct {
		name     string
		fileName string
		force    bool
		err      bool
	}{
		{"force true, file exists", existing, true, false},
		{"force false, file exists", existing, false, true},
		{"force false, file has recorded progress", partial, false, false},
		{"force true, file does not exist", filepath.Join(dir, "unknownFile"), true, false},
		{"force false, file does not exist", filepath.Join(dir, "unknownFile"), false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			viper.Set(optname.Force, tc.force)
			err := EnsureDestinationNotExist(tc.fileName)
			assert.Equal(t, tc.err, err != nil)
		})
	}
}

func TestDestinationFromURL(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
		err      bool
	}{
		{"https://example.com/weights/model.safetensors", "model.safetensors", false},
		{"https://example.com/file.tar?token=abc", "file.tar", false},
		{"https://example.com/dir/", "dir", false},
		{"https://example.com", "", true},
		{"https://example.com/", "", true},
		{"://bad", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			dest, err := DestinationFromURL(tc.url)
			assert.Equal(t, tc.err, err != nil)
			assert.Equal(t, tc.expected, dest)
		})
	}
}

func TestWithPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rget.pid")

	called := false
	err := WithPIDFile(context.Background(), path, func() error {
		called = true
		_, err := os.Stat(path)
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, WithPIDFile(context.Background(), "", func() error { return nil }))
}
