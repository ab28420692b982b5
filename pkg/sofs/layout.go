// Package sofs implements the on-disk layer of SOFS11: a UNIX-style file
// system hosted inside a single backing file treated as an array of
// fixed-size blocks.
package sofs

const (
	// Signature identifies a SOFS11 volume. Stored little-endian in the
	// superblock header.
	Signature = 0x534F4653 // "SOFS"
	Version   = 1
)

const (
	// BlockSize is the smallest unit of backing-file I/O.
	BlockSize = 4096
	// BlocksPerCluster ("BPC" in spec.md) is the number of contiguous
	// blocks making up one data cluster.
	BlocksPerCluster = 4
	// ClusterSize is the size in bytes of one data cluster.
	ClusterSize = BlockSize * BlocksPerCluster

	// InodeSize is the fixed on-disk size of one inode record.
	InodeSize = 128
	// InodesPerBlock ("IPB" in spec.md).
	InodesPerBlock = BlockSize / InodeSize

	// MaxNameLength is the maximum number of bytes (excluding the
	// terminating nul) in a directory entry's base name.
	MaxNameLength = 60

	// NDirect is the number of direct references stored inline in an
	// inode.
	NDirect = 10

	// ClusterHeaderSize is the size of the prev/next/stat header at the
	// front of every data cluster — including reference clusters, which
	// carry the same header so they can double as free-list nodes once
	// freed.
	ClusterHeaderSize = 12

	// ClusterPayloadSize is the number of bytes of payload (file data,
	// directory entries, or cluster references) available after the
	// cluster header.
	ClusterPayloadSize = ClusterSize - ClusterHeaderSize

	// RefsPerCluster ("RPC" in spec.md): the number of 32-bit cluster
	// references that fit in one reference cluster's payload.
	RefsPerCluster = ClusterPayloadSize / 4

	// MaxFileClusters bounds the logical cluster index space reachable
	// through direct + single-indirect + double-indirect references.
	MaxFileClusters = NDirect + RefsPerCluster + RefsPerCluster*RefsPerCluster

	// DirEntrySize is the fixed on-disk size of one directory entry.
	DirEntrySize = 64
	// DirEntryNameLen is the name field width inside a directory entry
	// (DirEntrySize minus the 4-byte inode number).
	DirEntryNameLen = DirEntrySize - 4
	// EntriesPerCluster ("DPC" in spec.md): directory entries per
	// cluster.
	EntriesPerCluster = ClusterPayloadSize / DirEntrySize

	// DallocCacheCap is the compile-time capacity of both the retrieval
	// and insertion caches embedded in the superblock (§4.5, §9 — the
	// orientations of these two arrays are not interchangeable).
	DallocCacheCap = 64

	// VolumeNameSize is the width of the superblock's volume-name field.
	VolumeNameSize = 32
)

// Sentinel index values. NULL_INODE/NULL_CLUSTER in spec.md.
const (
	NullInode   uint32 = 0xFFFFFFFF
	NullCluster uint32 = 0xFFFFFFFF
)

// RootInode is always in use, always a directory, and can never be
// freed (spec.md §3 "Invariants").
const RootInode uint32 = 0

// RootCluster is the first data cluster (logical 0); it stores the root
// directory and may never be freed.
const RootCluster uint32 = 0

// MountState mirrors the superblock's mstat field.
type MountState uint16

const (
	ProperlyUnmounted MountState = iota
	NotProperlyUnmounted
)

func divide(a, b int64) int64 {
	return (a + b - 1) / b
}

func align(a, b int64) int64 {
	return divide(a, b) * b
}

// InodeTableSize returns ceil(itotal/IPB), the number of blocks needed
// to hold itotal inodes.
func InodeTableSize(itotal int64) int64 {
	return divide(itotal, InodesPerBlock)
}

// TotalBlocks computes ntotal = 1 + itable_size + dzone_total*BPC, the
// invariant spec.md §3 requires of the superblock.
func TotalBlocks(itableSize, dzoneTotal int64) int64 {
	return 1 + itableSize + dzoneTotal*BlocksPerCluster
}

// ClusterBlock returns the physical block number of the first block of
// data cluster logIdx, given the data zone's starting block.
func ClusterBlock(dzoneStart int64, logIdx uint32) int64 {
	return dzoneStart + int64(logIdx)*BlocksPerCluster
}

// InodeLocation returns the block (relative to the inode table start)
// and the in-block slot of inode number ino.
func InodeLocation(ino uint32) (block int64, slot int64) {
	block = int64(ino) / InodesPerBlock
	slot = int64(ino) % InodesPerBlock
	return
}
