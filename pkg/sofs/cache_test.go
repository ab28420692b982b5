package sofs

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLoadStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.img")
	f, err := createSized(t, path, BlockSize*(2+BlocksPerCluster))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := OpenDevice(path)
	require.NoError(t, err)
	defer c.Close()

	buf, err := c.Load(SlotInodeTable, 1)
	require.NoError(t, err)
	assert.Len(t, buf, BlockSize)

	dst := c.Get(SlotInodeTable)
	copy(dst, bytes.Repeat([]byte{0xAB}, BlockSize))
	c.MarkDirty(SlotInodeTable)
	require.NoError(t, c.Store(SlotInodeTable))

	// Loading a different slot addressing a different block must not
	// disturb what was just stored in SlotInodeTable.
	buf2, err := c.Load(SlotDirectRefs, 2)
	require.NoError(t, err)
	assert.Len(t, buf2, ClusterSize)

	reread, err := c.Load(SlotInodeTable, 1)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, BlockSize), reread)
}

func TestOpenDeviceFlocksExclusively(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.img")
	f, err := createSized(t, path, BlockSize*4)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c1, err := OpenDevice(path)
	require.NoError(t, err)
	defer c1.Close()

	_, err = OpenDevice(path)
	assert.Error(t, err, "a second exclusive open of the same backing file must fail")
}

func TestCacheOperationsFailAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.img")
	f, err := createSized(t, path, BlockSize*4)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c, err := OpenDevice(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Load(SlotSuperblock, 0)
	assert.ErrorIs(t, err, ErrDeviceNotOpen)

	err = c.Store(SlotSuperblock)
	assert.ErrorIs(t, err, ErrDeviceNotOpen)
}
