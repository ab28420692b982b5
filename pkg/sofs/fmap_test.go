package sofs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileInode(t *testing.T, v *Volume) *Inode {
	t.Helper()
	n, err := v.AllocateInode(TypeRegular, PermOwnerR|PermOwnerW, 0, 0)
	require.NoError(t, err)
	ino, err := v.ReadInode(n, StatusInUse)
	require.NoError(t, err)
	return ino
}

func TestFileClusterDirectAllocateGetAndReadWrite(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	c, err := v.AllocFileCluster(ino, 0)
	require.NoError(t, err)
	assert.Equal(t, c, ino.Direct[0])
	assert.EqualValues(t, 1, ino.Clucount)

	got, err := v.GetFileCluster(ino, 0)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	require.NoError(t, v.WriteFileCluster(ino, 0, []byte("hello world")))
	buf, err := v.ReadFileCluster(ino, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), buf[:len("hello world")])
	for _, b := range buf[len("hello world"):] {
		assert.Zero(t, b)
	}
}

func TestFileClusterAlreadyAllocated(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	_, err := v.AllocFileCluster(ino, 0)
	require.NoError(t, err)
	_, err = v.AllocFileCluster(ino, 0)
	assert.ErrorIs(t, err, ErrAlreadyAlloc)
}

func TestGetFileClusterSparseReadsZero(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	c, err := v.GetFileCluster(ino, 3)
	require.NoError(t, err)
	assert.Equal(t, NullCluster, c)

	buf, err := v.ReadFileCluster(ino, 3)
	require.NoError(t, err)
	assert.Len(t, buf, ClusterPayloadSize)
	for _, b := range buf {
		assert.Zero(t, b)
	}
}

func TestClusterIndexOutOfRange(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	_, err := v.GetFileCluster(ino, uint32(MaxFileClusters))
	assert.ErrorIs(t, err, ErrInvalidCluster)

	_, err = v.AllocFileCluster(ino, uint32(MaxFileClusters))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestSingleIndirectMaterializesReferenceCluster(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	term, err := v.AllocFileCluster(ino, NDirect)
	require.NoError(t, err)
	assert.NotEqual(t, NullCluster, ino.I1)
	assert.EqualValues(t, 2, ino.Clucount) // the i1 reference cluster plus the terminal

	got, err := v.GetFileCluster(ino, NDirect)
	require.NoError(t, err)
	assert.Equal(t, term, got)

	_, _, stat, refs, err := v.InspectRefCluster(ino.I1)
	require.NoError(t, err)
	assert.EqualValues(t, ino.Num, stat)
	assert.Equal(t, term, refs[0])
}

func TestHandleFileClusterOpFreeDoesNotCascade(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	_, err := v.AllocFileCluster(ino, NDirect)
	require.NoError(t, err)
	i1 := ino.I1

	require.NoError(t, v.HandleFileCluster(ino, NDirect, OpFree))
	assert.Equal(t, i1, ino.I1, "OpFree must not release the now-empty i1 reference cluster")
	assert.EqualValues(t, 1, ino.Clucount)

	rc, err := v.readRefCluster(SlotIndirectRefs, i1)
	require.NoError(t, err)
	assert.Equal(t, NullCluster, rc.Refs[0])
}

func TestHandleFileClusterOpFreeCleanCascadesSingleIndirect(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	_, err := v.AllocFileCluster(ino, NDirect)
	require.NoError(t, err)

	require.NoError(t, v.HandleFileCluster(ino, NDirect, OpFreeClean))
	assert.Equal(t, NullCluster, ino.I1)
	assert.EqualValues(t, 0, ino.Clucount)
}

func TestDoubleIndirectAllocateAndCascadeFree(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	idx := uint32(NDirect + RefsPerCluster)
	term, err := v.AllocFileCluster(ino, idx)
	require.NoError(t, err)
	require.NotEqual(t, NullCluster, ino.I2)
	assert.EqualValues(t, 3, ino.Clucount) // outer ref cluster, inner ref cluster, terminal

	got, err := v.GetFileCluster(ino, idx)
	require.NoError(t, err)
	assert.Equal(t, term, got)

	require.NoError(t, v.HandleFileCluster(ino, idx, OpFreeClean))
	assert.Equal(t, NullCluster, ino.I2)
	assert.EqualValues(t, 0, ino.Clucount)

	got, err = v.GetFileCluster(ino, idx)
	require.NoError(t, err)
	assert.Equal(t, NullCluster, got)
}

func TestHandleRangeClearsWholeFile(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()
	ino := newFileInode(t, v)

	_, err := v.AllocFileCluster(ino, 0)
	require.NoError(t, err)
	_, err = v.AllocFileCluster(ino, 1)
	require.NoError(t, err)
	_, err = v.AllocFileCluster(ino, NDirect)
	require.NoError(t, err)

	before := v.Superblock().DzoneFree
	require.NoError(t, v.HandleFileClusters(ino, 0, OpFreeClean))

	assert.Equal(t, NullCluster, ino.Direct[0])
	assert.Equal(t, NullCluster, ino.Direct[1])
	assert.Equal(t, NullCluster, ino.I1)
	assert.EqualValues(t, 0, ino.Clucount)
	assert.Equal(t, before+4, v.Superblock().DzoneFree) // 2 direct + 1 ref cluster + 1 terminal
}
