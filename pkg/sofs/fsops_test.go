package sofs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFileAndDirEntries(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	file, err := v.CreateFile(root, "f.txt", PermOwnerR|PermOwnerW, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, TypeRegular, file.Mode.Type)

	root, err = v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)
	entries, err := v.DirEntries(root)
	require.NoError(t, err)
	require.Len(t, entries, 3) // "." ".." "f.txt"
	assert.Equal(t, "f.txt", entries[2].Name)
}

func TestMkdirNestsAndRmdirRemoves(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	sub, err := v.Mkdir(root, "sub", PermOwnerR|PermOwnerW|PermOwnerX, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeDirectory, sub.Mode.Type)

	root, err = v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)
	require.NoError(t, v.Rmdir(root, "sub", 0, 0))

	_, _, _, err = v.LookupByName(root, "sub", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlinkRefusesDirectory(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	_, err = v.Mkdir(root, "sub", PermOwnerR|PermOwnerW|PermOwnerX, 0, 0)
	require.NoError(t, err)
	root, err = v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	err = v.Unlink(root, "sub", 0, 0)
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestRmdirRefusesRegularFile(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	_, err = v.CreateFile(root, "f.txt", PermOwnerR, 0, 0)
	require.NoError(t, err)
	root, err = v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	err = v.Rmdir(root, "f.txt", 0, 0)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestSymlinkCreateAndReadLink(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	_, err = v.CreateFile(root, "real.txt", PermOwnerR, 0, 0)
	require.NoError(t, err)
	root, err = v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	link, err := v.Symlink(root, "link.txt", "/real.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeSymlink, link.Mode.Type)

	target, err := v.ReadLink(link)
	require.NoError(t, err)
	assert.Equal(t, "/real.txt", target)
}

func TestWriteAtGrowsFileAndReadAtRoundTrips(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	file, err := v.CreateFile(root, "f.txt", PermOwnerR|PermOwnerW, 0, 0)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("abcd"), 100)
	n, err := v.WriteAt(file, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, v.WriteInode(file, StatusInUse))
	assert.EqualValues(t, len(payload), file.Size)

	out := make([]byte, len(payload))
	n, err = v.ReadAt(file, out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
}

func TestWriteAtSpanningClusterBoundary(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	file, err := v.CreateFile(root, "f.txt", PermOwnerR|PermOwnerW, 0, 0)
	require.NoError(t, err)

	off := int64(ClusterPayloadSize - 10)
	payload := bytes.Repeat([]byte("x"), 20)
	_, err = v.WriteAt(file, payload, off)
	require.NoError(t, err)
	require.NoError(t, v.WriteInode(file, StatusInUse))

	out := make([]byte, len(payload))
	n, err := v.ReadAt(file, out, off)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
	assert.NotEqual(t, NullCluster, file.Direct[0])
	assert.NotEqual(t, NullCluster, file.Direct[1])
}

func TestReadAtClampsToFileSize(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	file, err := v.CreateFile(root, "f.txt", PermOwnerR|PermOwnerW, 0, 0)
	require.NoError(t, err)

	_, err = v.WriteAt(file, []byte("hi"), 0)
	require.NoError(t, err)
	require.NoError(t, v.WriteInode(file, StatusInUse))

	out := make([]byte, 100)
	n, err := v.ReadAt(file, out, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = v.ReadAt(file, out, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTruncateShrinkFreesClustersAndGrowExtendsSize(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	root, err := v.ReadInode(RootInode, StatusInUse)
	require.NoError(t, err)

	file, err := v.CreateFile(root, "f.txt", PermOwnerR|PermOwnerW, 0, 0)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("z"), int(ClusterPayloadSize)*2)
	_, err = v.WriteAt(file, payload, 0)
	require.NoError(t, err)
	require.NoError(t, v.WriteInode(file, StatusInUse))
	assert.NotEqual(t, NullCluster, file.Direct[1])

	before := v.Superblock().DzoneFree
	require.NoError(t, v.Truncate(file, uint64(ClusterPayloadSize)))
	require.NoError(t, v.WriteInode(file, StatusInUse))
	assert.EqualValues(t, ClusterPayloadSize, file.Size)
	assert.Equal(t, before+1, v.Superblock().DzoneFree)

	require.NoError(t, v.Truncate(file, uint64(ClusterPayloadSize)*3))
	assert.EqualValues(t, uint64(ClusterPayloadSize)*3, file.Size)
}
