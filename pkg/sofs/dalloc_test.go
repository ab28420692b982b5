package sofs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFreeDataClusterRoundTrip(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()

	before := v.Superblock().DzoneFree

	c, err := v.AllocateDataCluster(RootInode)
	require.NoError(t, err)
	assert.NotEqual(t, NullCluster, c)
	assert.Equal(t, before-1, v.Superblock().DzoneFree)

	_, _, stat, err := v.InspectClusterHeader(c)
	require.NoError(t, err)
	assert.EqualValues(t, RootInode, stat)

	require.NoError(t, v.FreeDataCluster(c))
	assert.Equal(t, before, v.Superblock().DzoneFree)

	prev, next, _, err := v.InspectClusterHeader(c)
	require.NoError(t, err)
	assert.Equal(t, NullCluster, prev)
	assert.Equal(t, NullCluster, next)
}

func TestFreeDataClusterRejectsOutOfRangeAndUnallocated(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()

	err := v.FreeDataCluster(0)
	assert.ErrorIs(t, err, ErrInvalidCluster)

	err = v.FreeDataCluster(v.Superblock().DzoneTotal)
	assert.ErrorIs(t, err, ErrInvalidCluster)

	// Logical cluster 1 is still on the general free list (never
	// allocated), so its header carries free-list linkage (Next == 2)
	// rather than the allocated shape: freeing it must be rejected as
	// not currently allocated.
	err = v.FreeDataCluster(1)
	assert.ErrorIs(t, err, ErrNotAllocated)
}

func TestAllocateDataClusterExhaustion(t *testing.T) {
	v, _ := testVolume(t, 64, 20)
	defer v.Unmount()

	var allocated []uint32
	for {
		c, err := v.AllocateDataCluster(RootInode)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoSpaceClusters)
			break
		}
		allocated = append(allocated, c)
	}
	assert.EqualValues(t, v.Superblock().DzoneTotal-1, len(allocated))
	assert.EqualValues(t, 0, v.Superblock().DzoneFree)

	for _, c := range allocated {
		require.NoError(t, v.FreeDataCluster(c))
	}
	assert.Equal(t, v.Superblock().DzoneTotal-1, v.Superblock().DzoneFree)
}

// TestReplenishCrossesCacheCapBoundary forces two replenish() calls by
// allocating more clusters in a row than DallocCacheCap holds, and
// checks the superblock's free-cluster accounting and that no cluster
// is handed out twice.
func TestReplenishCrossesCacheCapBoundary(t *testing.T) {
	v, _ := testVolume(t, 64, 3*DallocCacheCap)
	defer v.Unmount()

	total := v.Superblock().DzoneTotal - 1
	want := DallocCacheCap + DallocCacheCap/2

	seen := make(map[uint32]bool, want)
	for i := 0; i < want; i++ {
		c, err := v.AllocateDataCluster(RootInode)
		require.NoError(t, err)
		require.False(t, seen[c], "cluster %d allocated twice", c)
		seen[c] = true
	}
	assert.EqualValues(t, total-uint32(want), v.Superblock().DzoneFree)
	assert.Len(t, seen, want)
}

// TestDepleteCrossesCacheCapBoundary forces a deplete() by freeing more
// clusters in a row than DallocCacheCap holds, then drains every free
// cluster back out of the allocator and checks that each freed one is
// handed out again.
func TestDepleteCrossesCacheCapBoundary(t *testing.T) {
	v, _ := testVolume(t, 64, 3*DallocCacheCap)
	defer v.Unmount()

	want := DallocCacheCap + DallocCacheCap/2
	var allocated []uint32
	for i := 0; i < want; i++ {
		c, err := v.AllocateDataCluster(RootInode)
		require.NoError(t, err)
		allocated = append(allocated, c)
	}
	before := v.Superblock().DzoneFree

	for _, c := range allocated {
		require.NoError(t, v.FreeDataCluster(c))
	}
	assert.Equal(t, before+uint32(want), v.Superblock().DzoneFree)

	// Every freed cluster must be reachable again through the allocator
	// (general list plus whatever is left sitting in either cache). The
	// general list hands clusters out oldest first, so the freed ones
	// only come back after the never-allocated clusters queued ahead of
	// them: drain every free cluster.
	free := v.Superblock().DzoneFree
	reallocated := make(map[uint32]bool, free)
	for i := uint32(0); i < free; i++ {
		c, err := v.AllocateDataCluster(RootInode)
		require.NoError(t, err)
		reallocated[c] = true
	}
	for _, c := range allocated {
		assert.True(t, reallocated[c], "cluster %d not reallocated after drain", c)
	}
}
