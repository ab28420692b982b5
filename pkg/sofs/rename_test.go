package sofs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRenameMovesNonEmptyDirectoryAcrossParents guards against
// AttachDirectory re-initialising a directory it is only supposed to
// reparent: a directory carrying a live child must still contain that
// child, and both the moved directory's and its new parent's refcounts
// must come out of the move at sane, non-underflowed values.
func TestRenameMovesNonEmptyDirectoryAcrossParents(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()

	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	srcNum, err := v.AllocateInode(TypeDirectory, PermOwnerR|PermOwnerW|PermOwnerX, 0, 0)
	require.NoError(t, err)
	src, err := v.ReadInode(srcNum, StatusInUse)
	require.NoError(t, err)
	require.NoError(t, v.AddDirEntry(root, "src", srcNum, TypeDirectory, 0, 0))

	dstNum, err := v.AllocateInode(TypeDirectory, PermOwnerR|PermOwnerW|PermOwnerX, 0, 0)
	require.NoError(t, err)
	dst, err := v.ReadInode(dstNum, StatusInUse)
	require.NoError(t, err)
	require.NoError(t, v.AddDirEntry(root, "dst", dstNum, TypeDirectory, 0, 0))

	src, err = v.ReadInode(srcNum, StatusInUse)
	require.NoError(t, err)
	fileNum, err := v.AllocateInode(TypeRegular, PermOwnerR|PermOwnerW, 0, 0)
	require.NoError(t, err)
	require.NoError(t, v.AddDirEntry(src, "leaf.txt", fileNum, TypeRegular, 0, 0))

	root, err = v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)
	dst, err = v.ReadInode(dstNum, StatusInUse)
	require.NoError(t, err)
	src, err = v.ReadInode(srcNum, StatusInUse)
	require.NoError(t, err)
	require.NoError(t, v.Rename(root, "src", dst, "moved", 0, 0))

	dst, err = v.ReadInode(dstNum, StatusInUse)
	require.NoError(t, err)
	entIno, _, _, err := v.LookupByName(dst, "moved", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, srcNum, entIno)

	moved, err := v.ReadInode(srcNum, StatusInUse)
	require.NoError(t, err)
	assert.Less(t, moved.Refcount, uint32(1<<20), "refcount must not have underflowed")

	entries, err := v.DirEntries(moved)
	require.NoError(t, err)
	require.Len(t, entries, 3) // ".", "..", "leaf.txt"
	var sawLeaf bool
	for _, e := range entries {
		if e.Name == "leaf.txt" {
			sawLeaf = true
			assert.Equal(t, fileNum, e.Inode)
		}
		if e.Name == ".." {
			assert.Equal(t, dstNum, e.Inode)
		}
	}
	assert.True(t, sawLeaf, "moved directory lost its child across rename")

	root, err = v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)
	_, _, _, err = v.LookupByName(root, "src", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
