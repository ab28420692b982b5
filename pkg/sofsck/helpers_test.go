package sofsck

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sofs11/sofs11/pkg/sofs"
)

// fixtureVolume formats and mounts a small backing file, hands it to
// build for whatever setup the caller needs done through the normal
// mounted API, then cleanly unmounts and returns the path for Check to
// open fresh.
func fixtureVolume(t *testing.T, inodes, dataClusters int64, build func(v *sofs.Volume)) string {
	t.Helper()

	itableSize := sofs.InodeTableSize(inodes)
	ntotal := sofs.TotalBlocks(itableSize, dataClusters)

	path := filepath.Join(t.TempDir(), "volume.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(ntotal*sofs.BlockSize))
	require.NoError(t, f.Close())

	require.NoError(t, sofs.Format(path, sofs.FormatOptions{
		VolumeName: "test",
		InodeCount: inodes,
	}))

	v, err := sofs.Mount(path)
	require.NoError(t, err)

	if build != nil {
		build(v)
	}

	require.NoError(t, v.Unmount())
	return path
}

// corruptInodeRefcount overwrites just the refcount field of inode n's
// on-disk record, bypassing every consistency check WriteInode would
// otherwise enforce — the only way to construct the kind of impossible
// state fsck exists to catch.
func corruptInodeRefcount(t *testing.T, path string, n uint32, refcount uint32) {
	t.Helper()
	block, slot := sofs.InodeLocation(n)
	off := (1+block)*sofs.BlockSize + slot*sofs.InodeSize + 4

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], refcount)
	_, err = f.WriteAt(buf[:], off)
	require.NoError(t, err)
}

// corruptInodeDirect overwrites direct reference slot i of inode n's
// on-disk record, the route to forging a double-claimed cluster without
// going through any of the allocator's bookkeeping.
func corruptInodeDirect(t *testing.T, path string, n uint32, i int, value uint32) {
	t.Helper()
	block, slot := sofs.InodeLocation(n)
	off := (1+block)*sofs.BlockSize + slot*sofs.InodeSize + 36 + int64(i)*4

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, err = f.WriteAt(buf[:], off)
	require.NoError(t, err)
}

// corruptClusterHeader overwrites the prev/next/stat header of logical
// data cluster logIdx directly on disk.
func corruptClusterHeader(t *testing.T, path string, dzoneStart int64, logIdx uint32, prev, next, stat uint32) {
	t.Helper()
	off := sofs.ClusterBlock(dzoneStart, logIdx) * sofs.BlockSize

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], prev)
	binary.LittleEndian.PutUint32(buf[4:8], next)
	binary.LittleEndian.PutUint32(buf[8:12], stat)
	_, err = f.WriteAt(buf[:], off)
	require.NoError(t, err)
}

// zeroDirEntry blanks the entryIdx'th directory entry slot of logical
// data cluster clusterLogIdx, detaching whatever name/inode pair it
// held without touching the target inode's own refcount — the shape a
// directory-table write gone missing would leave behind.
func zeroDirEntry(t *testing.T, path string, dzoneStart int64, clusterLogIdx uint32, entryIdx int) {
	t.Helper()
	off := sofs.ClusterBlock(dzoneStart, clusterLogIdx)*sofs.BlockSize + sofs.ClusterHeaderSize + entryIdx*sofs.DirEntrySize

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, sofs.DirEntrySize)
	_, err = f.WriteAt(buf, off)
	require.NoError(t, err)
}

// corruptSuperblock opens path through the normal mount path, lets edit
// mutate the live superblock's exported fields directly, stores it, and
// releases the file without going through MarkCleanUnmount — the
// shortest route to an on-disk superblock shape the formatter itself
// would never produce.
func corruptSuperblock(t *testing.T, path string, edit func(sb *sofs.Superblock)) {
	t.Helper()
	v, err := sofs.Mount(path)
	require.NoError(t, err)
	edit(v.Superblock())
	require.NoError(t, v.Superblock().Store())
	require.NoError(t, v.CloseRaw())
}
