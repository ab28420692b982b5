package sofs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testVolume formats a small backing file (enough inodes and data
// clusters to exercise allocator boundaries without a multi-second
// test) and mounts it, returning the open Volume and its path. The
// caller is responsible for Unmount.
func testVolume(t *testing.T, inodes, dataClusters int64) (*Volume, string) {
	t.Helper()

	itableSize := InodeTableSize(inodes)
	ntotal := TotalBlocks(itableSize, dataClusters)

	path := filepath.Join(t.TempDir(), "volume.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(ntotal*BlockSize))
	require.NoError(t, f.Close())

	require.NoError(t, Format(path, FormatOptions{
		VolumeName: "test",
		InodeCount: inodes,
	}))

	v, err := Mount(path)
	require.NoError(t, err)
	return v, path
}

// createSized creates path as an empty file truncated to size bytes,
// the shape mkfs expects its target to already be in.
func createSized(t *testing.T, path string, size int64) (*os.File, error) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
